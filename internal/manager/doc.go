// Package manager is the service layer behind the HTTP API. It owns the
// bridge and connects it to the model registry, the conversation store and
// the notification subscribers. It is structured into small files by concern:
//
//   - manager.go: Manager type, Config, constructor, simple getters.
//   - errors.go: error types carrying HTTP status codes (IsTooBusy, ...).
//   - ops.go: Init, Abort, Terminate.
//   - infer.go: Chat, streaming a reply as NDJSON protocol events.
//   - events.go: bridge callbacks fanned out to subscribers.
//   - status_report.go: Status reporting.
//   - messages.go: conversation history.
package manager
