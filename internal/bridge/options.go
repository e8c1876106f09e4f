package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
	"inferbridge/internal/supervisor"
)

// Status mirrors the supervisor's lifecycle state as last observed.
type Status = supervisor.Status

// Worker is a running background execution context.
type Worker interface {
	// Send delivers cmd without blocking on the engine.
	Send(cmd protocol.Command) error
	// Events yields supervisor events in order and is closed when the
	// worker stops.
	Events() <-chan protocol.Event
	// Terminate stops the worker unconditionally.
	Terminate() error
}

// Spawner starts a fresh worker.
type Spawner func(ctx context.Context) (Worker, error)

// Handlers receive bridge notifications. They run one at a time, in the
// order the underlying events occurred, and must not block for long.
type Handlers struct {
	OnStatus   func(Status)
	OnProgress func(progress float64, text string)
	OnError    func(*errcode.Error)
}

// Options configure a Bridge.
type Options struct {
	Logger   zerolog.Logger
	Handlers Handlers
	// InitTimeout resolves a pending init as failed and resets the worker
	// when no init-complete arrives in time (0 = no limit).
	InitTimeout time.Duration
	// StallTimeout resets the worker when a running chat sees no event for
	// this long (0 = no limit).
	StallTimeout time.Duration
}
