package supervisor

import (
	"context"

	"inferbridge/internal/protocol"
)

// Engine abstracts the inference runtime. Concrete implementations (e.g.
// llama.cpp) satisfy this interface.
type Engine interface {
	// Load prepares a session for modelID. onProgress may be called with
	// values in [0,1] while loading.
	Load(ctx context.Context, modelID string, onProgress func(progress float64, text string)) (Session, error)
}

// Session is a loaded model.
type Session interface {
	// Generate streams tokens for the conversation. onToken is invoked for
	// every token; a non-nil return must stop generation promptly.
	// Implementations must return when ctx is canceled. A nil Usage means
	// the runtime cannot account tokens.
	Generate(ctx context.Context, messages []protocol.ChatMessage, params InferParams, onToken func(string) error) (*protocol.Usage, error)
	// Close releases the model.
	Close() error
}

// InferParams are sampling parameters with defaults already applied.
type InferParams struct {
	Temperature      float32
	TopP             float32
	MaxTokens        int
	FrequencyPenalty float32
	PresencePenalty  float32
}

func paramsFromConfig(c *protocol.GenerateConfig, defaults InferParams) InferParams {
	p := defaults
	if c == nil {
		return p
	}
	if c.Temperature != nil {
		p.Temperature = float32(*c.Temperature)
	}
	if c.TopP != nil {
		p.TopP = float32(*c.TopP)
	}
	if c.MaxTokens != nil && *c.MaxTokens > 0 {
		p.MaxTokens = *c.MaxTokens
	}
	if c.FrequencyPenalty != nil {
		p.FrequencyPenalty = float32(*c.FrequencyPenalty)
	}
	if c.PresencePenalty != nil {
		p.PresencePenalty = float32(*c.PresencePenalty)
	}
	return p
}
