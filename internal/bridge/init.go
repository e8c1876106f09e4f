package bridge

import (
	"context"
	"time"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
	"inferbridge/internal/supervisor"
)

// listenerBuffer bounds events queued for one listener before the
// dispatcher waits on it.
const listenerBuffer = 256

// initCall is the single in-flight init slot. Callers asking for the same
// model share it.
type initCall struct {
	model string
	// w is set once the worker is known, before any event is routed to ch.
	w       Worker
	ch      chan protocol.Event
	done    chan struct{}
	started time.Time

	// guarded by Bridge.mu
	resolved bool
	ok       bool
}

func (c *initCall) wait(ctx context.Context) (bool, error) {
	select {
	case <-c.done:
		return c.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Init loads modelID in the worker, starting the worker first if needed.
// It reports whether the model is ready. Engine-side failures yield false and
// reach Handlers.OnError exactly once; the error return is reserved for ctx
// ending, a closed bridge, a busy bridge or a conflicting pending init.
func (b *Bridge) Init(ctx context.Context, modelID string) (bool, error) {
	if modelID == "" {
		return false, ErrEmptyModel
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false, ErrClosed
	}
	if c := b.initCall; c != nil {
		b.mu.Unlock()
		if c.model != modelID {
			return false, ErrInitPending
		}
		return c.wait(ctx)
	}
	if b.chatCall != nil {
		b.mu.Unlock()
		return false, ErrBusy
	}
	if b.status == supervisor.StatusReady && b.model == modelID {
		b.mu.Unlock()
		return true, nil
	}
	// The init slot is taken before the worker is spawned so that spawning
	// happens outside b.mu. Concurrent callers queue on the slot meanwhile.
	c := &initCall{
		model:   modelID,
		ch:      make(chan protocol.Event, listenerBuffer),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	b.initCall = c
	if b.status != supervisor.StatusIdle && b.status != supervisor.StatusLoading {
		b.setStatusLocked(supervisor.StatusIdle)
	}
	b.setStatusLocked(supervisor.StatusLoading)
	b.model = modelID
	w := b.w
	b.mu.Unlock()
	b.flush()

	if w == nil {
		var err error
		if w, err = b.startWorker(ctx, c); err != nil {
			b.log.Error().Str("event", "worker_spawn_failed").Str("model", modelID).Err(err).Msg("bridge")
			b.finishInit(c, false, errcode.FromError(errcode.PhaseLoad, err))
			return c.wait(ctx)
		}
		if w == nil {
			// Terminated while spawning; c is already resolved.
			return c.wait(ctx)
		}
	}
	b.mu.Lock()
	c.w = w
	b.mu.Unlock()

	go b.listenInit(c)
	b.log.Info().Str("event", "init_send").Str("model", modelID).Msg("bridge")
	if err := w.Send(protocol.Init{Model: modelID}); err != nil {
		b.log.Error().Str("event", "init_send_failed").Str("model", modelID).Err(err).Msg("bridge")
		b.resetWorker(w, errcode.New(errcode.Unknown, "send init: "+err.Error()))
	}
	return c.wait(ctx)
}

// listenInit consumes the events of one init until its outcome is known.
func (b *Bridge) listenInit(c *initCall) {
	var timeout <-chan time.Time
	if d := b.opts.InitTimeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	var firstErr *errcode.Error
	for {
		select {
		case <-c.done:
			return
		case <-timeout:
			b.resetWorker(c.w, errcode.New(errcode.ModelLoadFailed, "init timed out after "+b.opts.InitTimeout.String()))
			return
		case ev := <-c.ch:
			switch e := ev.(type) {
			case protocol.InitProgress:
				if h := b.opts.Handlers.OnProgress; h != nil {
					b.mu.Lock()
					if !c.resolved {
						b.enqueueLocked(func() { h(e.Progress, e.Text) })
					}
					b.mu.Unlock()
					b.flush()
				}
			case protocol.Error:
				ce := e.Err()
				if firstErr == nil {
					firstErr = ce
				}
				// An UNKNOWN error during load is a protocol failure, not a
				// load outcome; no init-complete will follow it.
				if ce.Code == errcode.Unknown {
					b.finishInit(c, false, ce)
					return
				}
			case protocol.InitComplete:
				if e.Success {
					b.finishInit(c, true, nil)
					return
				}
				err := firstErr
				if err == nil {
					msg := e.Error
					if msg == "" {
						msg = "model load failed"
					}
					err = errcode.New(errcode.ModelLoadFailed, msg)
				}
				b.finishInit(c, false, err)
				return
			}
		}
	}
}

// finishInit resolves c once. Failures are reported to OnError.
func (b *Bridge) finishInit(c *initCall, ok bool, err *errcode.Error) {
	b.mu.Lock()
	if c.resolved {
		b.mu.Unlock()
		return
	}
	c.resolved = true
	c.ok = ok
	if ok {
		b.lastErr = nil
	}
	if b.initCall == c {
		b.initCall = nil
		if ok {
			b.setStatusLocked(supervisor.StatusReady)
		} else {
			b.setStatusLocked(supervisor.StatusError)
		}
	}
	if !ok {
		if err == nil {
			err = errcode.New(errcode.ModelLoadFailed, "model load failed")
		}
		b.lastErr = err
		countError(err)
		b.enqueueErrorLocked(err)
	}
	b.mu.Unlock()
	b.flush()

	dur := time.Since(c.started)
	initDuration.WithLabelValues(outcomeLabel(ok)).Observe(dur.Seconds())
	if ok {
		b.log.Info().Str("event", "init_ready").Str("model", c.model).Dur("dur", dur).Msg("bridge")
	} else {
		b.log.Warn().Str("event", "init_failed").Str("model", c.model).Str("code", string(err.Code)).Str("error", err.Message).Msg("bridge")
	}
	close(c.done)
}
