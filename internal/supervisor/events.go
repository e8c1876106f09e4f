package supervisor

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is a lifecycle notification: init_start, init_ready, init_failed,
// generate_start, generate_done, generate_error, abort or unload.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives lifecycle events. Publish is called on the
// supervisor's goroutines and must not block.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes each event as one structured log line. Failures are
// logged at warn, everything else at info.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) LogPublisher { return LogPublisher{log: log} }

func (p LogPublisher) Publish(e Event) {
	ev := p.log.Info()
	if e.Name == "init_failed" || e.Name == "generate_error" {
		ev = p.log.Warn()
	}
	if e.ModelID != "" {
		ev = ev.Str("model", e.ModelID)
	}
	ev.Fields(e.Fields).Str("event", e.Name).Msg("supervisor")
}

// MemoryPublisher keeps events in publish order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

// Events returns a copy of what was published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Names returns the event names in publish order.
func (p *MemoryPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Name
	}
	return out
}
