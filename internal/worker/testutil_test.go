package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"inferbridge/internal/protocol"
	"inferbridge/internal/supervisor"
)

// echoEngine replies with the words of the last user message.
type echoEngine struct{}

func (echoEngine) Load(ctx context.Context, modelID string, onProgress func(float64, string)) (supervisor.Session, error) {
	if strings.HasPrefix(modelID, "bad") {
		return nil, errors.New("no GPU adapter available")
	}
	onProgress(0.5, "Loading...")
	onProgress(1, "Ready")
	return echoSession{}, nil
}

type echoSession struct{}

func (echoSession) Generate(ctx context.Context, msgs []protocol.ChatMessage, params supervisor.InferParams, onToken func(string) error) (*protocol.Usage, error) {
	last := msgs[len(msgs)-1].Content
	words := strings.SplitAfter(last, " ")
	for _, w := range words {
		if err := onToken(w); err != nil {
			return nil, err
		}
	}
	return &protocol.Usage{PromptTokens: 1, CompletionTokens: len(words), TotalTokens: 1 + len(words)}, nil
}

func (echoSession) Close() error { return nil }

func collect(t *testing.T, events <-chan protocol.Event) []protocol.Event {
	t.Helper()
	var out []protocol.Event
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("events closed early after %v", out)
			}
			out = append(out, e)
			switch e.(type) {
			case protocol.Done, protocol.Error, protocol.InitComplete:
				return out
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out; got %v", out)
		}
	}
}
