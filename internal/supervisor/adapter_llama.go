//go:build llama

package supervisor

import (
	"context"
	"errors"

	llama "github.com/go-skynet/go-llama.cpp"

	"inferbridge/internal/protocol"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaEngine holds global config used to load model sessions.
type llamaEngine struct {
	cfg LlamaConfig
}

// NewLlamaEngine returns the llama.cpp engine for this build.
func NewLlamaEngine(cfg LlamaConfig) Engine {
	return &llamaEngine{cfg: cfg}
}

// llamaSession owns the loaded model.
type llamaSession struct {
	model   *llama.LLama
	threads int
}

func (e *llamaEngine) Load(ctx context.Context, modelID string, onProgress func(float64, string)) (Session, error) {
	path, err := resolveModelPath(e.cfg.Registry, modelID)
	if err != nil {
		return nil, err
	}
	onProgress(0, "Loading "+modelID)
	mo := []llama.ModelOption{llama.SetContext(zn(e.cfg.CtxSize, 2048))}
	if e.cfg.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(e.cfg.GPULayers))
	}
	// llama.New cannot be interrupted; run it aside so a load timeout is
	// still reported on time. A model that finishes loading after the
	// deadline is freed.
	type result struct {
		m   *llama.LLama
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := llama.New(path, mo...)
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		onProgress(1, "Ready")
		return &llamaSession{model: r.m, threads: e.cfg.Threads}, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.m != nil {
				r.m.Free()
			}
		}()
		return nil, ctx.Err()
	}
}

func (s *llamaSession) Generate(ctx context.Context, msgs []protocol.ChatMessage, params InferParams, onToken func(string) error) (*protocol.Usage, error) {
	if s.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	var cbErr error
	// Bridge token streaming to onToken and respect cancellation.
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	defer s.model.SetTokenCallback(nil)
	_, err := s.model.Predict(renderChatML(msgs), mapInferParams(params, s.threads)...)
	if cbErr != nil {
		return nil, cbErr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	// Token counts are not exposed by go-llama.cpp's Predict.
	return nil, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// mapInferParams converts sampling params into go-llama.cpp options.
func mapInferParams(p InferParams, threads int) []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(p.TopP),
		llama.SetTemperature(p.Temperature),
		llama.SetFrequencyPenalty(p.FrequencyPenalty),
		llama.SetPresencePenalty(p.PresencePenalty),
		llama.SetStopWords(chatMLStop),
	}
}
