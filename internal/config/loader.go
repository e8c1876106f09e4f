package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Worker modes.
const (
	WorkerInProcess = "inprocess"
	WorkerProcess   = "process"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	WorkerMode string `json:"worker_mode" yaml:"worker_mode" toml:"worker_mode"`
	WorkerBin  string `json:"worker_bin" yaml:"worker_bin" toml:"worker_bin"`
	DBPath     string `json:"db_path" yaml:"db_path" toml:"db_path"`

	LlamaCtx     int `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads int `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	// LlamaGPULayers offloads that many layers when built with GPU support.
	LlamaGPULayers int `json:"llama_gpu_layers" yaml:"llama_gpu_layers" toml:"llama_gpu_layers"`

	LoadTimeout     Duration `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	GenerateTimeout Duration `json:"generate_timeout" yaml:"generate_timeout" toml:"generate_timeout"`
	InitTimeout     Duration `json:"init_timeout" yaml:"init_timeout" toml:"init_timeout"`
	StallTimeout    Duration `json:"stall_timeout" yaml:"stall_timeout" toml:"stall_timeout"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// WithDefaults returns cfg with unspecified fields filled in.
func (cfg Config) WithDefaults() Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "~/models/llm"
	}
	if cfg.WorkerMode == "" {
		cfg.WorkerMode = WorkerInProcess
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "~/.local/share/inferbridge/inferbridge.db"
	}
	if cfg.LlamaCtx <= 0 {
		cfg.LlamaCtx = 4096
	}
	if cfg.LoadTimeout.Duration == 0 {
		cfg.LoadTimeout.Duration = 5 * time.Minute
	}
	if cfg.InitTimeout.Duration == 0 {
		cfg.InitTimeout.Duration = cfg.LoadTimeout.Duration + 30*time.Second
	}
	if cfg.StallTimeout.Duration == 0 {
		cfg.StallTimeout.Duration = 2 * time.Minute
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}

// Validate reports settings that cannot work together.
func (cfg Config) Validate() error {
	switch cfg.WorkerMode {
	case "", WorkerInProcess, WorkerProcess:
	default:
		return fmt.Errorf("worker_mode must be %q or %q, got %q", WorkerInProcess, WorkerProcess, cfg.WorkerMode)
	}
	for name, d := range map[string]time.Duration{
		"load_timeout":     cfg.LoadTimeout.Duration,
		"generate_timeout": cfg.GenerateTimeout.Duration,
		"init_timeout":     cfg.InitTimeout.Duration,
		"stall_timeout":    cfg.StallTimeout.Duration,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if cfg.LlamaThreads < 0 {
		return fmt.Errorf("llama_threads must not be negative")
	}
	if cfg.LlamaGPULayers < 0 {
		return fmt.Errorf("llama_gpu_layers must not be negative")
	}
	return nil
}
