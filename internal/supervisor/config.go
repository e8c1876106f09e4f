package supervisor

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultDrainTimeout = 10 * time.Second
	defaultMaxTokens    = 512
	defaultTemperature  = 0.7
	defaultTopP         = 0.95
)

// Config encapsulates all tunables for Supervisor construction.
type Config struct {
	Engine Engine
	// LoadTimeout bounds a single model load (0 = no limit).
	LoadTimeout time.Duration
	// GenerateTimeout bounds a single generation (0 = no limit).
	GenerateTimeout time.Duration
	// DrainTimeout bounds how long unload waits for a running generation.
	DrainTimeout time.Duration
	// Defaults for fields a chat request leaves unset.
	Defaults  InferParams
	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Supervisor from Config.
func NewWithConfig(cfg Config) *Supervisor {
	s := &Supervisor{
		engine:      cfg.Engine,
		loadTimeout: cfg.LoadTimeout,
		genTimeout:  cfg.GenerateTimeout,
		status:      StatusIdle,
		genSlot:     make(chan struct{}, 1),
	}
	if cfg.DrainTimeout <= 0 {
		s.drainTimeout = defaultDrainTimeout
	} else {
		s.drainTimeout = cfg.DrainTimeout
	}
	s.defaults = cfg.Defaults
	if s.defaults.MaxTokens <= 0 {
		s.defaults.MaxTokens = defaultMaxTokens
	}
	if s.defaults.Temperature <= 0 {
		s.defaults.Temperature = defaultTemperature
	}
	if s.defaults.TopP <= 0 {
		s.defaults.TopP = defaultTopP
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	} else {
		s.log = zerolog.Nop()
	}
	if cfg.Publisher != nil {
		s.publisher = cfg.Publisher
	} else {
		s.publisher = noopPublisher{}
	}
	if s.engine == nil {
		s.engine = NewLlamaEngine(LlamaConfig{})
	}
	return s
}
