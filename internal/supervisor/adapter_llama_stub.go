//go:build !llama

package supervisor

// This file provides a no-CGO stub for the llama engine. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real engine lives in adapter_llama.go (tagged 'llama').

import (
	"context"
)

// llamaBuilt indicates whether this binary was compiled with llama support.
var llamaBuilt = false

// llamaEngine resolves models like the real engine but refuses to load them.
type llamaEngine struct {
	cfg LlamaConfig
}

// NewLlamaEngine returns the llama.cpp engine for this build.
func NewLlamaEngine(cfg LlamaConfig) Engine {
	return &llamaEngine{cfg: cfg}
}

func (e *llamaEngine) Load(ctx context.Context, modelID string, onProgress func(float64, string)) (Session, error) {
	if _, err := resolveModelPath(e.cfg.Registry, modelID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Fail fast: llama runtime not available in this build.
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
