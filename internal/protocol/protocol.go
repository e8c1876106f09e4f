// Package protocol defines the messages exchanged between the bridge and the
// engine supervisor. Commands flow to the supervisor, events flow back. The
// two directions are distinct sealed interfaces so a value can never be read
// as both.
package protocol

import "inferbridge/internal/errcode"

// Wire tags.
const (
	TypeInit  = "init"
	TypeChat  = "chat"
	TypeAbort = "abort"

	TypeInitProgress = "init-progress"
	TypeInitComplete = "init-complete"
	TypeChunk        = "chunk"
	TypeDone         = "done"
	TypeError        = "error"
)

// Role of a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateConfig holds optional sampling parameters. Nil fields fall back to
// engine defaults.
type GenerateConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

// Usage contains token accounting for a finished generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Command is a message sent to the supervisor.
type Command interface {
	commandType() string
}

// Init asks the supervisor to load a model.
type Init struct {
	Model string
}

// Chat asks the supervisor to generate a reply to Messages.
type Chat struct {
	Messages []ChatMessage
	Config   *GenerateConfig
}

// Abort asks the supervisor to stop the current generation.
type Abort struct{}

func (Init) commandType() string  { return TypeInit }
func (Chat) commandType() string  { return TypeChat }
func (Abort) commandType() string { return TypeAbort }

// Event is a message emitted by the supervisor.
type Event interface {
	eventType() string
}

// InitProgress reports model loading progress in [0,1].
type InitProgress struct {
	Progress float64
	Text     string
}

// InitComplete ends an init. Error is set only when Success is false.
type InitComplete struct {
	Success bool
	Error   string
}

// Chunk carries one fragment of generated text.
type Chunk struct {
	Content string
}

// Done ends a generation. Usage is nil when the engine cannot report it.
type Done struct {
	Usage *Usage
}

// Error reports a classified failure.
type Error struct {
	Message string
	Code    errcode.Code
}

func (InitProgress) eventType() string { return TypeInitProgress }
func (InitComplete) eventType() string { return TypeInitComplete }
func (Chunk) eventType() string        { return TypeChunk }
func (Done) eventType() string         { return TypeDone }
func (Error) eventType() string        { return TypeError }

// Err converts the event into a classified Go error.
func (e Error) Err() *errcode.Error { return errcode.New(e.Code, e.Message) }

// ErrorEvent builds an Error event from a classified error.
func ErrorEvent(err *errcode.Error) Error {
	return Error{Message: err.Message, Code: err.Code}
}

// CommandType returns the wire tag of c.
func CommandType(c Command) string { return c.commandType() }

// EventType returns the wire tag of e.
func EventType(e Event) string { return e.eventType() }

// CloneMessages returns a deep copy so the caller's slice can change freely
// after a message has been handed over.
func CloneMessages(in []ChatMessage) []ChatMessage {
	if in == nil {
		return nil
	}
	out := make([]ChatMessage, len(in))
	copy(out, in)
	return out
}
