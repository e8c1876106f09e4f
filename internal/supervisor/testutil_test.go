package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"inferbridge/internal/protocol"
)

// fakeEngine is a lightweight in-memory engine used for tests.
type fakeEngine struct {
	mu        sync.Mutex
	loadErr   error
	loadBlock bool // Load waits for ctx to end
	progress  []float64
	tokens    []string
	genErr    error
	genPanic  bool
	usage     *protocol.Usage
	// gate, when set, must be fed once per token before it is emitted.
	gate chan struct{}
	// stuck, when set, blocks Generate until closed, ignoring ctx.
	stuck  chan struct{}
	loads  []string
	closed int
	params []InferParams
	// active counts Generate calls in progress; closedActive counts sessions
	// closed while one was.
	active       int
	closedActive int
}

func (f *fakeEngine) Load(ctx context.Context, modelID string, onProgress func(float64, string)) (Session, error) {
	f.mu.Lock()
	f.loads = append(f.loads, modelID)
	f.mu.Unlock()
	if f.loadBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for _, p := range f.progress {
		onProgress(p, "loading")
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &fakeSession{f: f}, nil
}

func (f *fakeEngine) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEngine) loaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

type fakeSession struct{ f *fakeEngine }

func (s *fakeSession) Generate(ctx context.Context, msgs []protocol.ChatMessage, params InferParams, onToken func(string) error) (*protocol.Usage, error) {
	s.f.mu.Lock()
	s.f.params = append(s.f.params, params)
	s.f.active++
	stuck := s.f.stuck
	s.f.mu.Unlock()
	defer func() {
		s.f.mu.Lock()
		s.f.active--
		s.f.mu.Unlock()
	}()
	if stuck != nil {
		<-stuck
		return nil, nil
	}
	if s.f.genPanic {
		panic("kernel exploded")
	}
	for _, tok := range s.f.tokens {
		if s.f.gate != nil {
			select {
			case <-s.f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := onToken(tok); err != nil {
			return nil, err
		}
	}
	if s.f.genErr != nil {
		return nil, s.f.genErr
	}
	return s.f.usage, nil
}

func (s *fakeSession) Close() error {
	s.f.mu.Lock()
	s.f.closed++
	if s.f.active > 0 {
		s.f.closedActive++
	}
	s.f.mu.Unlock()
	return nil
}

func (f *fakeEngine) closedWhileActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedActive
}

func (f *fakeEngine) setStuck(ch chan struct{}) {
	f.mu.Lock()
	f.stuck = ch
	f.mu.Unlock()
}

// recorder captures emitted events.
type recorder struct{ ch chan protocol.Event }

func newRecorder() *recorder { return &recorder{ch: make(chan protocol.Event, 256)} }

func (r *recorder) emit(e protocol.Event) { r.ch <- e }

func (r *recorder) next(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

// untilTerminal collects events up to and including the first done,
// error or init-complete.
func (r *recorder) untilTerminal(t *testing.T) []protocol.Event {
	t.Helper()
	var out []protocol.Event
	for {
		e := r.next(t)
		out = append(out, e)
		switch e.(type) {
		case protocol.Done, protocol.Error, protocol.InitComplete:
			return out
		}
	}
}

func (r *recorder) empty(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.ch:
		t.Fatalf("unexpected event %#v", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func newTestSupervisor(f *fakeEngine) (*Supervisor, *recorder, *MemoryPublisher) {
	return newTestSupervisorDrain(f, 200*time.Millisecond)
}

func newTestSupervisorDrain(f *fakeEngine, drain time.Duration) (*Supervisor, *recorder, *MemoryPublisher) {
	pub := NewMemoryPublisher()
	s := NewWithConfig(Config{Engine: f, Publisher: pub, DrainTimeout: drain})
	rec := newRecorder()
	s.SetEmitter(rec.emit)
	return s, rec, pub
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
