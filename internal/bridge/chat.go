package bridge

import (
	"time"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
	"inferbridge/internal/stream"
	"inferbridge/internal/supervisor"
)

// chatCall is the single pending chat slot. It is held from Chat until the
// worker's done or error arrives, or the worker goes away.
type chatCall struct {
	msgs []protocol.ChatMessage
	cfg  *protocol.GenerateConfig
	w    Worker
	sink *stream.Sink
	ch   chan protocol.Event
	done chan struct{}

	// guarded by Bridge.mu
	started   bool
	abortSent bool
	finished  bool
}

// Chat returns a stream for the assistant reply to messages. Nothing is sent
// until the stream is first read. Messages and cfg are copied.
func (b *Bridge) Chat(messages []protocol.ChatMessage, cfg *protocol.GenerateConfig) (*stream.Stream, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed:
		return nil, ErrClosed
	case b.chatCall != nil:
		return nil, ErrBusy
	case b.initCall != nil || b.status != supervisor.StatusReady || b.w == nil:
		return nil, ErrNotReady
	}
	c := &chatCall{
		msgs: protocol.CloneMessages(messages),
		cfg:  cloneConfig(cfg),
		ch:   make(chan protocol.Event, listenerBuffer),
		done: make(chan struct{}),
		w:    b.w,
	}
	s, sink := stream.New(stream.Hooks{
		OnStart:  func() { b.startChat(c) },
		OnCancel: func() { b.abortChat(c) },
	})
	c.sink = sink
	b.chatCall = c
	b.usage = nil
	return s, nil
}

// Abort stops the running generation. The current stream is closed at once;
// chunks still in flight are dropped. It is a no-op when nothing is pending.
func (b *Bridge) Abort() {
	b.mu.Lock()
	c := b.chatCall
	b.mu.Unlock()
	if c == nil {
		return
	}
	b.abortChat(c)
	c.sink.Close()
}

// startChat sends the chat command on the first read of the stream.
func (b *Bridge) startChat(c *chatCall) {
	b.mu.Lock()
	if c.finished || c.started || b.chatCall != c {
		b.mu.Unlock()
		return
	}
	c.started = true
	w := c.w
	b.setStatusLocked(supervisor.StatusGenerating)
	b.mu.Unlock()
	b.flush()

	go b.listenChat(c)
	b.log.Debug().Str("event", "chat_send").Int("messages", len(c.msgs)).Msg("bridge")
	if err := w.Send(protocol.Chat{Messages: c.msgs, Config: c.cfg}); err != nil {
		b.log.Error().Str("event", "chat_send_failed").Err(err).Msg("bridge")
		b.resetWorker(w, errcode.New(errcode.Unknown, "send chat: "+err.Error()))
	}
}

// abortChat sends abort once for a started chat. A chat that was never sent
// is released immediately.
func (b *Bridge) abortChat(c *chatCall) {
	b.mu.Lock()
	if c.finished {
		b.mu.Unlock()
		return
	}
	if !c.started {
		b.mu.Unlock()
		b.finishChat(c, nil, nil)
		return
	}
	if c.abortSent {
		b.mu.Unlock()
		return
	}
	c.abortSent = true
	w := c.w
	b.mu.Unlock()
	b.log.Info().Str("event", "abort_send").Msg("bridge")
	if err := w.Send(protocol.Abort{}); err != nil {
		b.log.Error().Str("event", "abort_send_failed").Err(err).Msg("bridge")
		b.resetWorker(w, errcode.New(errcode.Unknown, "send abort: "+err.Error()))
	}
}

// listenChat feeds one generation's events into its stream.
func (b *Bridge) listenChat(c *chatCall) {
	var (
		stall <-chan time.Time
		timer *time.Timer
	)
	if d := b.opts.StallTimeout; d > 0 {
		timer = time.NewTimer(d)
		defer timer.Stop()
		stall = timer.C
	}
	for {
		select {
		case <-c.done:
			return
		case <-stall:
			b.resetWorker(c.w, errcode.New(errcode.Unknown, "worker stalled: no event for "+b.opts.StallTimeout.String()))
			return
		case ev := <-c.ch:
			if timer != nil {
				timer.Reset(b.opts.StallTimeout)
			}
			switch e := ev.(type) {
			case protocol.Chunk:
				c.sink.Enqueue(e.Content)
			case protocol.Done:
				b.finishChat(c, nil, e.Usage)
				return
			case protocol.Error:
				b.finishChat(c, e.Err(), nil)
				return
			}
		}
	}
}

// finishChat ends c once: the stream is closed (err == nil) or failed and
// the chat slot is released.
func (b *Bridge) finishChat(c *chatCall, err *errcode.Error, usage *protocol.Usage) {
	b.mu.Lock()
	if c.finished {
		b.mu.Unlock()
		return
	}
	c.finished = true
	aborted := c.abortSent
	if b.chatCall == c {
		b.chatCall = nil
		if b.status == supervisor.StatusGenerating {
			b.setStatusLocked(supervisor.StatusReady)
		}
	}
	if err == nil && usage != nil {
		u := *usage
		b.usage = &u
	}
	b.mu.Unlock()
	b.flush()

	switch {
	case err != nil:
		countError(err)
		chatsTotal.WithLabelValues("error").Inc()
		b.log.Warn().Str("event", "chat_error").Str("code", string(err.Code)).Str("error", err.Message).Msg("bridge")
		c.sink.Fail(err)
	case aborted:
		chatsTotal.WithLabelValues("aborted").Inc()
		c.sink.Close()
	default:
		chatsTotal.WithLabelValues("done").Inc()
		c.sink.Close()
	}
	close(c.done)
}

func cloneConfig(c *protocol.GenerateConfig) *protocol.GenerateConfig {
	if c == nil {
		return nil
	}
	out := &protocol.GenerateConfig{}
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		out.TopP = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		out.MaxTokens = &v
	}
	if c.FrequencyPenalty != nil {
		v := *c.FrequencyPenalty
		out.FrequencyPenalty = &v
	}
	if c.PresencePenalty != nil {
		v := *c.PresencePenalty
		out.PresencePenalty = &v
	}
	return out
}
