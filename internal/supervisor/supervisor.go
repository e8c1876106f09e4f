package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
)

type Supervisor struct {
	engine       Engine
	loadTimeout  time.Duration
	genTimeout   time.Duration
	drainTimeout time.Duration
	defaults     InferParams
	log          zerolog.Logger
	publisher    EventPublisher

	mu      sync.Mutex
	status  Status
	model   string
	lastErr string
	sess    Session
	gen     *generation
	// genSlot holds a token while a generation is in flight (size 1).
	genSlot chan struct{}

	emitMu sync.Mutex
	emit   func(protocol.Event)
}

// New constructs a Supervisor around engine with package defaults.
func New(engine Engine) *Supervisor {
	return NewWithConfig(Config{Engine: engine})
}

// SetEmitter installs the function events are delivered to. Serve sets it
// for the lifetime of the loop.
func (s *Supervisor) SetEmitter(emit func(protocol.Event)) {
	s.emitMu.Lock()
	s.emit = emit
	s.emitMu.Unlock()
}

// Snapshot returns a read-only view of the supervisor state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Status: s.status, Model: s.model, Err: s.lastErr}
}

// Serve processes commands in order until cmds is closed or ctx ends, then
// unloads the engine. Events are delivered through emit, one at a time.
func (s *Supervisor) Serve(ctx context.Context, cmds <-chan protocol.Command, emit func(protocol.Event)) error {
	s.SetEmitter(emit)
	defer s.Unload()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			s.Handle(ctx, cmd)
		}
	}
}

// Handle applies one command. Init runs to completion before Handle returns;
// Chat starts a generation and returns immediately so that a following
// Abort can be observed.
func (s *Supervisor) Handle(ctx context.Context, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.Init:
		s.handleInit(ctx, c.Model)
	case protocol.Chat:
		s.handleChat(ctx, c)
	case protocol.Abort:
		s.handleAbort()
	default:
		s.emitEvent(protocol.Error{
			Message: fmt.Sprintf("malformed message: unsupported command %T", cmd),
			Code:    errcode.Unknown,
		})
	}
}

func (s *Supervisor) emitEvent(ev protocol.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.emit != nil {
		s.emit(ev)
	}
}

func (s *Supervisor) handleInit(ctx context.Context, modelID string) {
	startTs := time.Now()
	// Never mix two model contexts: stop and discard whatever is loaded.
	s.Unload()

	s.mu.Lock()
	s.status = StatusLoading
	s.model = modelID
	s.lastErr = ""
	s.mu.Unlock()
	s.log.Info().Str("event", "init_start").Str("model", modelID).Msg("supervisor")
	s.publisher.Publish(Event{Name: "init_start", ModelID: modelID, Fields: map[string]any{}})

	lctx, cancel := ctx, context.CancelFunc(func() {})
	if s.loadTimeout > 0 {
		lctx, cancel = context.WithTimeout(ctx, s.loadTimeout)
	}
	var finished atomic.Bool
	onProgress := func(p float64, text string) {
		if finished.Load() {
			return
		}
		s.emitEvent(protocol.InitProgress{Progress: clamp01(p), Text: text})
	}
	sess, err := s.safeLoad(lctx, modelID, onProgress)
	finished.Store(true)
	cancel()

	if err != nil {
		ce := errcode.FromError(errcode.PhaseLoad, err)
		s.mu.Lock()
		s.status = StatusError
		s.lastErr = ce.Error()
		s.mu.Unlock()
		cause := loadFailureCause(err)
		s.log.Error().Str("event", "init_failed").Str("model", modelID).Str("code", string(ce.Code)).Str("cause", cause).Err(err).Msg("supervisor")
		s.publisher.Publish(Event{Name: "init_failed", ModelID: modelID, Fields: map[string]any{"code": string(ce.Code), "cause": cause, "error": ce.Message}})
		s.emitEvent(protocol.ErrorEvent(ce))
		s.emitEvent(protocol.InitComplete{Success: false, Error: ce.Message})
		return
	}

	s.mu.Lock()
	s.sess = sess
	s.status = StatusReady
	s.mu.Unlock()
	dur := time.Since(startTs)
	s.log.Info().Str("event", "init_ready").Str("model", modelID).Dur("dur", dur).Msg("supervisor")
	s.publisher.Publish(Event{Name: "init_ready", ModelID: modelID, Fields: map[string]any{"dur_ms": int(dur / time.Millisecond)}})
	s.emitEvent(protocol.InitComplete{Success: true})
}

// safeLoad turns an engine panic into a load failure.
func (s *Supervisor) safeLoad(ctx context.Context, modelID string, onProgress func(float64, string)) (sess Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("engine panic during load: %v", r)
		}
	}()
	return s.engine.Load(ctx, modelID, onProgress)
}

func (s *Supervisor) handleAbort() {
	s.mu.Lock()
	g, model := s.gen, s.model
	s.mu.Unlock()
	if g == nil {
		s.log.Debug().Str("event", "abort_ignored").Msg("supervisor")
		return
	}
	if g.abort.CompareAndSwap(false, true) {
		s.log.Info().Str("event", "abort").Str("model", model).Msg("supervisor")
		s.publisher.Publish(Event{Name: "abort", ModelID: model, Fields: map[string]any{}})
	}
}

func clamp01(p float64) float64 {
	switch {
	case p != p || p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
