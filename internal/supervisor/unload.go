package supervisor

import "time"

// Unload discards the engine session and returns the supervisor to idle.
// A running generation is aborted and drained first, waiting up to the drain
// timeout before its context is canceled outright. A generation that ignores
// cancellation too is abandoned: it loses its slot and the session is closed
// only once it returns.
func (s *Supervisor) Unload() {
	stuck := s.stopGeneration()
	s.mu.Lock()
	sess, model := s.sess, s.model
	s.sess = nil
	s.model = ""
	s.status = StatusIdle
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if stuck != nil {
		go s.closeAfter(stuck, sess, model)
	} else if err := sess.Close(); err != nil {
		s.log.Warn().Str("event", "unload_close_error").Str("model", model).Err(err).Msg("supervisor")
	}
	s.log.Info().Str("event", "unload").Str("model", model).Msg("supervisor")
	s.publisher.Publish(Event{Name: "unload", ModelID: model, Fields: map[string]any{}})
}

func (s *Supervisor) closeAfter(g *generation, sess Session, model string) {
	<-g.done
	if err := sess.Close(); err != nil {
		s.log.Warn().Str("event", "unload_close_error").Str("model", model).Err(err).Msg("supervisor")
		return
	}
	s.log.Info().Str("event", "abandoned_session_closed").Str("model", model).Msg("supervisor")
}

// stopGeneration sets the abort flag on the running generation, if any, and
// waits for it to finish. It returns the generation if it had to be abandoned
// while still inside the engine.
func (s *Supervisor) stopGeneration() *generation {
	s.mu.Lock()
	g, model := s.gen, s.model
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	g.abort.Store(true)
	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()
	select {
	case <-g.done:
		return nil
	case <-timer.C:
	}
	s.log.Warn().Str("event", "drain_timeout").Str("model", model).Dur("timeout", s.drainTimeout).Msg("supervisor")
	s.publisher.Publish(Event{Name: "drain_timeout", ModelID: model, Fields: map[string]any{}})
	g.cancel()
	timer.Reset(s.drainTimeout)
	select {
	case <-g.done:
		return nil
	case <-timer.C:
	}

	s.mu.Lock()
	if g.released {
		// Generate returned in the meantime; only the terminal event is pending.
		s.mu.Unlock()
		return nil
	}
	g.abandoned = true
	if s.gen == g {
		s.gen = nil
	}
	<-s.genSlot
	s.mu.Unlock()
	s.log.Error().Str("event", "drain_abandoned").Str("model", model).Msg("supervisor")
	s.publisher.Publish(Event{Name: "drain_abandoned", ModelID: model, Fields: map[string]any{}})
	return g
}
