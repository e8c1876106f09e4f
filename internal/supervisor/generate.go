package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
)

// generation tracks one in-flight chat. abort is the cooperative stop flag,
// checked between token emissions; cancel is only used to escalate when a
// drain times out.
type generation struct {
	abort  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	// Guarded by Supervisor.mu. Exactly one of them ends up set: released by
	// the generation itself once Generate returns, abandoned by an unload
	// that gave up draining it. An abandoned generation owns neither the slot
	// nor the event stream.
	released  bool
	abandoned bool
}

func (s *Supervisor) handleChat(ctx context.Context, c protocol.Chat) {
	// Admission: single in-flight generation.
	select {
	case s.genSlot <- struct{}{}:
	default:
		s.emitEvent(protocol.Error{Message: "generation already in progress", Code: errcode.GenerationError})
		return
	}
	s.mu.Lock()
	if s.status != StatusReady || s.sess == nil {
		s.mu.Unlock()
		<-s.genSlot
		s.emitEvent(protocol.Error{Message: "model not loaded", Code: errcode.GenerationError})
		return
	}
	gctx, cancel := context.WithCancel(ctx)
	if s.genTimeout > 0 {
		cancel()
		gctx, cancel = context.WithTimeout(ctx, s.genTimeout)
	}
	g := &generation{cancel: cancel, done: make(chan struct{})}
	s.gen = g
	s.status = StatusGenerating
	sess, model := s.sess, s.model
	s.mu.Unlock()

	params := paramsFromConfig(c.Config, s.defaults)
	msgs := protocol.CloneMessages(c.Messages)
	s.log.Info().Str("event", "generate_start").Str("model", model).Int("messages", len(msgs)).Msg("supervisor")
	s.publisher.Publish(Event{Name: "generate_start", ModelID: model, Fields: map[string]any{"messages": len(msgs)}})
	go s.runGeneration(gctx, g, sess, model, msgs, params)
}

func (s *Supervisor) runGeneration(ctx context.Context, g *generation, sess Session, model string, msgs []protocol.ChatMessage, params InferParams) {
	defer close(g.done)
	defer g.cancel()
	startTs := time.Now()
	tokens := 0
	onToken := func(tok string) error {
		if g.abort.Load() {
			return errAborted
		}
		tokens++
		s.emitEvent(protocol.Chunk{Content: tok})
		return nil
	}
	usage, err := safeGenerate(ctx, sess, msgs, params, onToken)
	aborted := g.abort.Load()

	// Back to ready before the terminal event goes out, so the next chat
	// sent in response to it is admitted.
	s.mu.Lock()
	if g.abandoned {
		s.mu.Unlock()
		s.log.Warn().Str("event", "generate_discarded").Str("model", model).Int("tokens", tokens).Msg("supervisor")
		return
	}
	g.released = true
	if s.gen == g {
		s.gen = nil
		if s.status == StatusGenerating {
			s.status = StatusReady
		}
	}
	<-s.genSlot
	s.mu.Unlock()

	dur := time.Since(startTs)
	switch {
	case aborted:
		s.log.Info().Str("event", "generate_aborted").Str("model", model).Int("tokens", tokens).Dur("dur", dur).Msg("supervisor")
		s.publisher.Publish(Event{Name: "generate_done", ModelID: model, Fields: map[string]any{"tokens": tokens, "aborted": true}})
		s.emitEvent(protocol.Done{Usage: usage})
	case err != nil:
		ce := errcode.FromError(errcode.PhaseGenerate, err)
		s.mu.Lock()
		s.lastErr = ce.Error()
		s.mu.Unlock()
		s.log.Error().Str("event", "generate_error").Str("model", model).Str("code", string(ce.Code)).Err(err).Msg("supervisor")
		s.publisher.Publish(Event{Name: "generate_error", ModelID: model, Fields: map[string]any{"code": string(ce.Code), "error": ce.Message}})
		s.emitEvent(protocol.ErrorEvent(ce))
	default:
		s.log.Info().Str("event", "generate_done").Str("model", model).Int("tokens", tokens).Dur("dur", dur).Msg("supervisor")
		s.publisher.Publish(Event{Name: "generate_done", ModelID: model, Fields: map[string]any{"tokens": tokens, "aborted": false}})
		s.emitEvent(protocol.Done{Usage: usage})
	}
}

// safeGenerate turns an engine panic into a generation error.
func safeGenerate(ctx context.Context, sess Session, msgs []protocol.ChatMessage, params InferParams, onToken func(string) error) (u *protocol.Usage, err error) {
	defer func() {
		if r := recover(); r != nil {
			u, err = nil, fmt.Errorf("engine panic during generation: %v", r)
		}
	}()
	u, err = sess.Generate(ctx, msgs, params, onToken)
	if errors.Is(err, errAborted) {
		err = nil
	}
	return u, err
}
