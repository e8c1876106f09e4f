package supervisor

// Status is the supervisor's lifecycle state. Exactly one value holds at any
// time.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusGenerating Status = "generating"
	StatusError      Status = "error"
)

// Snapshot is a read-only projection of the supervisor state.
type Snapshot struct {
	Status Status
	Model  string
	Err    string
}
