package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"inferbridge/internal/protocol"
	"inferbridge/internal/supervisor"
)

const (
	pipeCommandBuffer = 64
	pipeEventBuffer   = 256
)

// Pipe hosts a supervisor on goroutines of this process.
type Pipe struct {
	cmds   chan protocol.Command
	out    chan protocol.Event
	done   chan struct{}
	cancel context.CancelFunc
	exited chan struct{}
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// StartPipe starts sup on a fresh goroutine. The supervisor is owned by the
// pipe from here on and must not be used by the caller.
func StartPipe(sup *supervisor.Supervisor, log zerolog.Logger) *Pipe {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipe{
		cmds:   make(chan protocol.Command, pipeCommandBuffer),
		out:    make(chan protocol.Event, pipeEventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		exited: make(chan struct{}),
		log:    log,
	}
	go func() {
		defer close(p.exited)
		if err := sup.Serve(ctx, p.cmds, p.emit); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("worker pipe: supervisor exited")
		}
		p.shutdown()
	}()
	return p
}

// emit copies ev through the codec and hands it to the bridge side.
func (p *Pipe) emit(ev protocol.Event) {
	b, err := protocol.MarshalEvent(ev)
	if err == nil {
		ev, err = protocol.UnmarshalEvent(b)
	}
	if err != nil {
		ev = protocol.ErrorEvent(errcodeOf(err))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.out <- ev:
	case <-p.done:
	}
}

// Send queues cmd for the supervisor without blocking.
func (p *Pipe) Send(cmd protocol.Command) error {
	b, err := protocol.MarshalCommand(cmd)
	if err != nil {
		return err
	}
	c, err := protocol.UnmarshalCommand(b)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrWorkerGone
	default:
	}
	select {
	case p.cmds <- c:
		return nil
	case <-p.done:
		return ErrWorkerGone
	default:
		return ErrQueueFull
	}
}

// Events delivers supervisor events. It is closed when the worker stops.
func (p *Pipe) Events() <-chan protocol.Event { return p.out }

// Terminate stops the supervisor. It returns without waiting for the engine
// to be released; use Wait for that.
func (p *Pipe) Terminate() error {
	p.cancel()
	p.shutdown()
	return nil
}

// Wait blocks until the supervisor goroutine has exited and the engine was
// released, or ctx ends.
func (p *Pipe) Wait(ctx context.Context) error {
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) shutdown() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.out)
		p.mu.Unlock()
	})
}
