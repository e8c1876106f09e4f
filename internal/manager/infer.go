package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
	"inferbridge/internal/store"
	"inferbridge/pkg/types"
)

const persistTimeout = 5 * time.Second

// Chat streams the reply to req into w as NDJSON protocol events: chunk
// lines followed by exactly one done or error line. flush, if non-nil, runs
// after every line. Errors returned before anything was written mean the
// request was rejected; once streaming began, a failure is reported as an
// error line instead. Ending ctx aborts the generation.
func (m *Manager) Chat(ctx context.Context, req types.ChatRequest, w io.Writer, flush func()) error {
	msgs, err := toProtocolMessages(req.Messages)
	if err != nil {
		return err
	}
	if req.Model != "" {
		if _, err := m.resolveModel(req.Model); err != nil {
			return err
		}
		if err := m.ensureModel(ctx, req.Model); err != nil {
			return err
		}
	}
	prompt := msgs
	if req.ConversationID != "" && m.store != nil {
		hist, err := m.store.GetMessages(ctx, req.ConversationID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		prompt = append(store.History(hist), msgs...)
	}
	s, err := m.br.Chat(prompt, toProtocolConfig(req.Config))
	if err != nil {
		return mapBridgeErr(err)
	}

	write := func(ev protocol.Event) error {
		b, err := protocol.MarshalEvent(ev)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}

	var reply strings.Builder
	for {
		chunk, err := s.Next(ctx)
		if err == nil {
			reply.WriteString(chunk)
			if werr := write(protocol.Chunk{Content: chunk}); werr != nil {
				s.Cancel()
				return fmt.Errorf("write chunk: %w", werr)
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			s.Cancel()
			m.log.Info().Str("event", "chat_canceled").Msg("client went away")
			return ctx.Err()
		}
		ce := errcode.FromError(errcode.PhaseGenerate, err)
		if werr := write(protocol.ErrorEvent(ce)); werr != nil {
			return fmt.Errorf("write error: %w", werr)
		}
		return nil
	}
	if err := write(protocol.Done{Usage: m.br.LastUsage()}); err != nil {
		return fmt.Errorf("write done: %w", err)
	}
	if req.ConversationID != "" {
		m.persist(ctx, req.ConversationID, msgs, reply.String())
	}
	return nil
}

// persist stores the new request messages and the reply. Failures are
// logged; the reply was already delivered.
func (m *Manager) persist(ctx context.Context, convID string, msgs []protocol.ChatMessage, reply string) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	msgs = append(msgs, protocol.ChatMessage{Role: protocol.RoleAssistant, Content: reply})
	for _, cm := range msgs {
		sm := store.Message{ConversationID: convID, Role: cm.Role, Content: cm.Content}
		if _, err := m.store.AddMessage(ctx, sm); err != nil {
			m.log.Error().Err(err).Str("conversation_id", convID).Msg("persist message")
			return
		}
	}
}

func toProtocolMessages(in []types.Message) ([]protocol.ChatMessage, error) {
	if len(in) == 0 {
		return nil, badRequestError{msg: "messages must not be empty"}
	}
	out := make([]protocol.ChatMessage, 0, len(in))
	for i, msg := range in {
		r := protocol.Role(msg.Role)
		if !r.Valid() {
			return nil, badRequestError{msg: fmt.Sprintf("messages[%d]: invalid role %q", i, msg.Role)}
		}
		out = append(out, protocol.ChatMessage{Role: r, Content: msg.Content})
	}
	return out, nil
}

func toProtocolConfig(c *types.GenerateConfig) *protocol.GenerateConfig {
	if c == nil {
		return nil
	}
	return &protocol.GenerateConfig{
		Temperature:      c.Temperature,
		TopP:             c.TopP,
		MaxTokens:        c.MaxTokens,
		FrequencyPenalty: c.FrequencyPenalty,
		PresencePenalty:  c.PresencePenalty,
	}
}
