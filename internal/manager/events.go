package manager

import (
	"time"

	"inferbridge/internal/bridge"
	"inferbridge/internal/errcode"
	"inferbridge/pkg/types"
)

// subscriberBuffer bounds notifications queued per subscriber. A subscriber
// that falls further behind misses notifications.
const subscriberBuffer = 64

// Subscribe registers for status, progress and error notifications. The
// returned cancel func unregisters and closes the channel.
func (m *Manager) Subscribe() (<-chan types.Notification, func()) {
	ch := make(chan types.Notification, subscriberBuffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Manager) handlers() bridge.Handlers {
	return bridge.Handlers{
		OnStatus: func(s bridge.Status) {
			m.publish(types.Notification{Type: types.NotifyStatus, Status: string(s)})
		},
		OnProgress: func(p float64, text string) {
			m.publish(types.Notification{Type: types.NotifyProgress, Progress: &p, Text: text})
		},
		OnError: func(e *errcode.Error) {
			d := detailOf(e)
			m.mu.Lock()
			m.lastErr = d
			m.mu.Unlock()
			m.log.Warn().Str("code", d.Code).Str("error", d.Message).Msg("worker error")
			m.publish(types.Notification{Type: types.NotifyError, Error: d})
		},
	}
}

func (m *Manager) publish(n types.Notification) {
	n.TimeUnix = time.Now().Unix()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- n:
		default:
			m.log.Debug().Str("type", n.Type).Msg("subscriber behind; notification dropped")
		}
	}
}
