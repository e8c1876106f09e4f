package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferbridge/internal/bridge"
	"inferbridge/internal/store"
	"inferbridge/internal/supervisor"
	"inferbridge/pkg/types"
)

// MessageStore persists conversation messages.
type MessageStore interface {
	AddMessage(ctx context.Context, m store.Message) (store.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]store.Message, error)
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Registry     []types.Model
	DefaultModel string
	// Spawner starts the background worker the bridge talks to.
	Spawner      bridge.Spawner
	WorkerMode   string
	InitTimeout  time.Duration
	StallTimeout time.Duration
	// Store is optional; without it conversation ids are ignored.
	Store  MessageStore
	Logger *zerolog.Logger
}

type Manager struct {
	br           *bridge.Bridge
	registry     []types.Model
	defaultModel string
	workerMode   string
	store        MessageStore
	log          zerolog.Logger
	startedAt    time.Time

	mu      sync.Mutex
	subs    map[int]chan types.Notification
	nextSub int
	lastErr *types.ErrorDetail
}

// NewWithConfig constructs a Manager and its bridge. No worker starts until
// the first Init.
func NewWithConfig(cfg Config) *Manager {
	m := &Manager{
		registry:     append([]types.Model(nil), cfg.Registry...),
		defaultModel: cfg.DefaultModel,
		workerMode:   cfg.WorkerMode,
		store:        cfg.Store,
		startedAt:    time.Now(),
		subs:         map[int]chan types.Notification{},
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	} else {
		m.log = zerolog.Nop()
	}
	m.br = bridge.New(cfg.Spawner, bridge.Options{
		Logger:       m.log,
		Handlers:     m.handlers(),
		InitTimeout:  cfg.InitTimeout,
		StallTimeout: cfg.StallTimeout,
	})
	return m
}

// Ready reports whether a model is loaded and can serve a chat.
func (m *Manager) Ready() bool {
	switch m.br.Status() {
	case supervisor.StatusReady, supervisor.StatusGenerating:
		return true
	}
	return false
}

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// Close terminates the worker and disconnects all subscribers.
func (m *Manager) Close() error {
	err := m.br.Close()
	m.mu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()
	return err
}
