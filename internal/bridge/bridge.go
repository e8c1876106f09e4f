package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
	"inferbridge/internal/supervisor"
)

// Bridge owns one worker at a time and the requests pending on it.
type Bridge struct {
	spawn Spawner
	opts  Options
	log   zerolog.Logger

	mu       sync.Mutex
	w        Worker
	status   Status
	model    string
	initCall *initCall
	chatCall *chatCall
	usage    *protocol.Usage
	lastErr  *errcode.Error
	closed   bool

	// Notifications are queued under mu and delivered in order by whichever
	// goroutine finds the queue idle.
	cbMu      sync.Mutex
	cbQueue   []func()
	cbRunning bool
}

// New constructs a Bridge. No worker is started until the first Init.
func New(spawn Spawner, opts Options) *Bridge {
	return &Bridge{
		spawn:  spawn,
		opts:   opts,
		log:    opts.Logger,
		status: supervisor.StatusIdle,
	}
}

// Status returns the mirrored lifecycle state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Model returns the model the worker is loading or has loaded, if any.
func (b *Bridge) Model() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model
}

// LastUsage returns the token usage reported by the most recent completed
// chat, or nil when the engine did not report any.
func (b *Bridge) LastUsage() *protocol.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.usage == nil {
		return nil
	}
	u := *b.usage
	return &u
}

// LastInitError returns the reason the most recent init failed, or nil if
// it succeeded.
func (b *Bridge) LastInitError() *errcode.Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Terminate stops the worker unconditionally. A pending init resolves false,
// a pending stream fails with UNKNOWN, and the status returns to idle. A
// later Init starts a fresh worker.
func (b *Bridge) Terminate() error {
	b.mu.Lock()
	w := b.w
	b.detachLocked(w, errcode.New(errcode.Unknown, "worker terminated"), detachTerminate)
	if w == nil {
		return nil
	}
	b.log.Info().Str("event", "worker_terminate").Msg("bridge")
	return w.Terminate()
}

// Close terminates the worker and rejects all further calls.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.Terminate()
}

// startWorker spawns a worker for the init holding slot c. b.mu must not be
// held. If c was resolved while spawning, typically by Terminate, the new
// worker is stopped and startWorker returns a nil Worker.
func (b *Bridge) startWorker(ctx context.Context, c *initCall) (Worker, error) {
	w, err := b.spawn(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.initCall != c || c.resolved || b.w != nil {
		b.mu.Unlock()
		b.log.Info().Str("event", "worker_spawn_discarded").Msg("bridge")
		if err := w.Terminate(); err != nil {
			b.log.Warn().Err(err).Msg("bridge: terminate discarded worker")
		}
		return nil, nil
	}
	b.w = w
	b.mu.Unlock()
	workerSpawnsTotal.Inc()
	id := uuid.NewString()
	b.log.Info().Str("event", "worker_spawn").Str("worker_id", id).Msg("bridge")
	go b.dispatch(w, id)
	return w, nil
}

// dispatch routes every event of w to the listener of the request it belongs
// to. It returns when the worker's event channel closes.
func (b *Bridge) dispatch(w Worker, id string) {
	for ev := range w.Events() {
		b.route(w, ev)
	}
	b.log.Info().Str("event", "worker_exit").Str("worker_id", id).Msg("bridge")
	b.detach(w, errcode.New(errcode.Unknown, "worker exited unexpectedly"), detachExit)
}

func (b *Bridge) route(w Worker, ev protocol.Event) {
	b.mu.Lock()
	if b.w != w {
		b.mu.Unlock()
		return
	}
	var (
		ch   chan protocol.Event
		done chan struct{}
	)
	ic, cc := b.initCall, b.chatCall
	switch ev.(type) {
	case protocol.InitProgress, protocol.InitComplete:
		if ic != nil {
			ch, done = ic.ch, ic.done
		}
	case protocol.Chunk, protocol.Done:
		if cc != nil && cc.started {
			ch, done = cc.ch, cc.done
		}
	case protocol.Error:
		switch {
		case ic != nil:
			ch, done = ic.ch, ic.done
		case cc != nil && cc.started:
			ch, done = cc.ch, cc.done
		}
	}
	if ch == nil {
		if e, ok := ev.(protocol.Error); ok {
			ce := e.Err()
			countError(ce)
			b.enqueueErrorLocked(ce)
		}
		b.mu.Unlock()
		b.flush()
		b.log.Debug().Str("event", "drop").Str("type", protocol.EventType(ev)).Msg("bridge")
		return
	}
	b.mu.Unlock()
	select {
	case ch <- ev:
	case <-done:
	}
}

type detachMode int

const (
	// detachExit: the worker went away on its own.
	detachExit detachMode = iota
	// detachReset: the bridge gave up on a stuck worker.
	detachReset
	// detachTerminate: the caller asked; status returns to idle even with
	// no worker running.
	detachTerminate
)

// detach forgets w if it is still the current worker and fails everything
// pending on it with reason. It reports whether w was current.
func (b *Bridge) detach(w Worker, reason *errcode.Error, mode detachMode) bool {
	b.mu.Lock()
	return b.detachLocked(w, reason, mode)
}

// detachLocked is detach with b.mu already held. It releases b.mu.
func (b *Bridge) detachLocked(w Worker, reason *errcode.Error, mode detachMode) bool {
	current := w != nil && b.w == w
	if !current && mode != detachTerminate {
		b.mu.Unlock()
		return false
	}
	if current {
		b.w = nil
	}
	ic, cc := b.initCall, b.chatCall
	b.initCall, b.chatCall = nil, nil
	b.model = ""
	b.setStatusLocked(supervisor.StatusIdle)
	if ic == nil && cc == nil && mode == detachExit {
		countError(reason)
		b.enqueueErrorLocked(reason)
	}
	b.mu.Unlock()
	b.flush()
	if ic != nil {
		b.finishInit(ic, false, reason)
	}
	if cc != nil {
		b.finishChat(cc, reason, nil)
	}
	return current
}

// resetWorker replaces a stuck worker: everything pending on it fails with
// reason and the process or goroutines behind it are stopped.
func (b *Bridge) resetWorker(w Worker, reason *errcode.Error) {
	if !b.detach(w, reason, detachReset) {
		return
	}
	b.log.Warn().Str("event", "worker_reset").Str("code", string(reason.Code)).Str("reason", reason.Message).Msg("bridge")
	if err := w.Terminate(); err != nil {
		b.log.Warn().Err(err).Msg("bridge: terminate stuck worker")
	}
}

func (b *Bridge) setStatusLocked(s Status) {
	if b.status == s {
		return
	}
	b.status = s
	if h := b.opts.Handlers.OnStatus; h != nil {
		b.enqueueLocked(func() { h(s) })
	}
}

func (b *Bridge) enqueueErrorLocked(e *errcode.Error) {
	if h := b.opts.Handlers.OnError; h != nil && e != nil {
		b.enqueueLocked(func() { h(e) })
	}
}

func (b *Bridge) enqueueLocked(f func()) {
	b.cbMu.Lock()
	b.cbQueue = append(b.cbQueue, f)
	b.cbMu.Unlock()
}

// flush runs queued notifications unless another goroutine already is.
func (b *Bridge) flush() {
	b.cbMu.Lock()
	if b.cbRunning {
		b.cbMu.Unlock()
		return
	}
	b.cbRunning = true
	for len(b.cbQueue) > 0 {
		f := b.cbQueue[0]
		b.cbQueue[0] = nil
		b.cbQueue = b.cbQueue[1:]
		b.cbMu.Unlock()
		f()
		b.cbMu.Lock()
	}
	b.cbRunning = false
	b.cbMu.Unlock()
}
