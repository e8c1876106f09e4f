package types

import "time"

// Model represents a discoverable LLM model on disk.
type Model struct {
	// Stable identifier for the model (the file name).
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	ID string `json:"id" example:"tinyllama-1.1b-chat.Q4_K_M.gguf"`
	// Human-friendly name.
	Name string `json:"name"`
	// Absolute path to the model file on disk.
	Path string `json:"path"`
	// Quantization level parsed from the file name, if any.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Optional family (e.g., llama, mistral, phi).
	Family string `json:"family,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorDetail describes a classified failure and the recovery a UI should
// offer for it.
type ErrorDetail struct {
	// One of WEBGPU_NOT_SUPPORTED, MODEL_LOAD_FAILED, OUT_OF_MEMORY,
	// GENERATION_ERROR, NETWORK_ERROR, UNKNOWN.
	Code    string `json:"code"`
	Message string `json:"message"`
	// example: retry-with-smaller-model
	Recovery string `json:"recovery"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error"`
	// Taxonomy code when the failure was classified.
	Code string `json:"code,omitempty"`
	// HTTP status code.
	// example: 400
	Status int `json:"status"`
}

// InitRequest is the body of POST /v1/init.
type InitRequest struct {
	// Model id; empty selects the configured default.
	Model string `json:"model"`
}

// InitResponse reports the outcome of a model load.
type InitResponse struct {
	Success bool         `json:"success"`
	Model   string       `json:"model"`
	Status  string       `json:"status"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	// user, assistant or system
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateConfig holds optional sampling parameters; omitted fields use the
// server defaults.
type GenerateConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

// ChatRequest is the body of POST /v1/chat. The response is NDJSON: chunk
// lines followed by exactly one done or error line.
type ChatRequest struct {
	// Optional model; when set and not loaded, it is loaded first.
	Model    string          `json:"model,omitempty"`
	Messages []Message       `json:"messages"`
	Config   *GenerateConfig `json:"config,omitempty"`
	// When set, the stored history of this conversation is prepended to
	// Messages, and Messages plus the reply are stored once the stream
	// completes.
	ConversationID string `json:"conversation_id,omitempty"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	// idle, loading, ready, generating or error
	Status     string       `json:"status"`
	Model      string       `json:"model,omitempty"`
	WorkerMode string       `json:"worker_mode"`
	LastError  *ErrorDetail `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// StoredMessage is a persisted conversation message.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagesResponse is returned by GET /v1/conversations/{id}/messages.
type MessagesResponse struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []StoredMessage `json:"messages"`
}

// Notification types pushed on GET /v1/events.
const (
	NotifyStatus   = "status"
	NotifyProgress = "progress"
	NotifyError    = "error"
)

// Notification is one server push on the events WebSocket.
type Notification struct {
	Type     string       `json:"type"`
	Status   string       `json:"status,omitempty"`
	Progress *float64     `json:"progress,omitempty"`
	Text     string       `json:"text,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
	TimeUnix int64        `json:"time_unix"`
}
