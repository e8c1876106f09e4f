package supervisor

import "inferbridge/pkg/types"

// LlamaConfig configures the llama.cpp engine.
type LlamaConfig struct {
	Registry  []types.Model
	CtxSize   int
	Threads   int
	GPULayers int
}

// LlamaAvailable reports whether this binary was built with the 'llama' tag.
func LlamaAvailable() bool { return llamaBuilt }
