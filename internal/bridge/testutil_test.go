package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
)

var errFakeGone = errors.New("fake worker gone")

// fakeWorker records commands and lets a test push events.
type fakeWorker struct {
	mu     sync.Mutex
	sent   []protocol.Command
	sentCh chan protocol.Command
	events chan protocol.Event
	closed bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		sentCh: make(chan protocol.Command, 64),
		events: make(chan protocol.Event, 64),
	}
}

func (f *fakeWorker) Send(cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeGone
	}
	f.sent = append(f.sent, cmd)
	f.sentCh <- cmd
	return nil
}

func (f *fakeWorker) Events() <-chan protocol.Event { return f.events }

func (f *fakeWorker) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeWorker) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// emit pushes events; it is a no-op after Terminate.
func (f *fakeWorker) emit(evs ...protocol.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, ev := range evs {
		f.events <- ev
	}
}

func (f *fakeWorker) commands() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command(nil), f.sent...)
}

func (f *fakeWorker) count(typ string) int {
	n := 0
	for _, c := range f.commands() {
		if protocol.CommandType(c) == typ {
			n++
		}
	}
	return n
}

// expect waits for the next command sent to the worker.
func (f *fakeWorker) expect(t *testing.T, typ string) protocol.Command {
	t.Helper()
	select {
	case c := <-f.sentCh:
		if got := protocol.CommandType(c); got != typ {
			t.Fatalf("sent %q, want %q", got, typ)
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", typ)
	}
	return nil
}

// recorder captures handler notifications.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	progress []protocol.InitProgress
	errs     []*errcode.Error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStatus: func(s Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
		OnProgress: func(p float64, text string) {
			r.mu.Lock()
			r.progress = append(r.progress, protocol.InitProgress{Progress: p, Text: text})
			r.mu.Unlock()
		},
		OnError: func(e *errcode.Error) {
			r.mu.Lock()
			r.errs = append(r.errs, e)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]Status, []protocol.InitProgress, []*errcode.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...),
		append([]protocol.InitProgress(nil), r.progress...),
		append([]*errcode.Error(nil), r.errs...)
}

type harness struct {
	b       *Bridge
	rec     *recorder
	spawned chan *fakeWorker
	spawnMu sync.Mutex
	workers []*fakeWorker
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{rec: &recorder{}, spawned: make(chan *fakeWorker, 8)}
	opts.Logger = zerolog.Nop()
	opts.Handlers = h.rec.handlers()
	h.b = New(func(ctx context.Context) (Worker, error) {
		w := newFakeWorker()
		h.spawnMu.Lock()
		h.workers = append(h.workers, w)
		h.spawnMu.Unlock()
		h.spawned <- w
		return w, nil
	}, opts)
	t.Cleanup(func() { _ = h.b.Close() })
	return h
}

func (h *harness) nextWorker(t *testing.T) *fakeWorker {
	t.Helper()
	select {
	case w := <-h.spawned:
		return w
	case <-time.After(2 * time.Second):
		t.Fatalf("no worker spawned")
	}
	return nil
}

type initResult struct {
	ok  bool
	err error
}

func (h *harness) initAsync(model string) <-chan initResult {
	out := make(chan initResult, 1)
	go func() {
		ok, err := h.b.Init(testCtx(), model)
		out <- initResult{ok, err}
	}()
	return out
}

func waitInit(t *testing.T, ch <-chan initResult) initResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("init did not resolve")
	}
	return initResult{}
}

// ready drives a successful init of model and returns the worker.
func (h *harness) ready(t *testing.T, model string) *fakeWorker {
	t.Helper()
	res := h.initAsync(model)
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	w.emit(protocol.InitComplete{Success: true})
	if r := waitInit(t, res); !r.ok || r.err != nil {
		t.Fatalf("init: ok=%v err=%v", r.ok, r.err)
	}
	return w
}

func testCtx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = cancel
	return ctx
}

func userMsg(s string) []protocol.ChatMessage {
	return []protocol.ChatMessage{{Role: protocol.RoleUser, Content: s}}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
