package e2e

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferbridge/internal/bridge"
	"inferbridge/internal/httpapi"
	"inferbridge/internal/manager"
	"inferbridge/internal/protocol"
	"inferbridge/internal/registry"
	"inferbridge/internal/store"
	"inferbridge/internal/supervisor"
	"inferbridge/internal/worker"
)

// wordEngine answers with the words of the last message, one token per word.
// Model files whose name starts with "broken" fail to load. When gate is set,
// every token waits for a value on it.
type wordEngine struct {
	gate chan struct{}
}

func (e *wordEngine) Load(ctx context.Context, modelID string, onProgress func(float64, string)) (supervisor.Session, error) {
	if strings.HasPrefix(modelID, "broken") {
		return nil, errors.New("failed to allocate buffer: out of memory")
	}
	onProgress(0.25, "Loading...")
	onProgress(1, "Ready")
	return &wordSession{gate: e.gate}, nil
}

type wordSession struct{ gate chan struct{} }

func (s *wordSession) Generate(ctx context.Context, msgs []protocol.ChatMessage, _ supervisor.InferParams, onToken func(string) error) (*protocol.Usage, error) {
	words := strings.SplitAfter(msgs[len(msgs)-1].Content, " ")
	for _, w := range words {
		if s.gate != nil {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := onToken(w); err != nil {
			return nil, err
		}
	}
	return &protocol.Usage{PromptTokens: len(msgs), CompletionTokens: len(words), TotalTokens: len(msgs) + len(words)}, nil
}

func (s *wordSession) Close() error { return nil }

// createTempModelsDir creates a temporary directory populated with empty .gguf files
// and returns the directory path and the list of model IDs (filenames).
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir, names
}

type serverOpts struct {
	defaultModel string
	gate         chan struct{}
	withStore    bool
}

// newServerForDir scans modelsDir and serves the full HTTP stack over an
// in-process worker running wordEngine.
func newServerForDir(t *testing.T, modelsDir string, o serverOpts) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg, err := registry.NewGGUFScanner().Scan(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	log := zerolog.Nop()
	eng := &wordEngine{gate: o.gate}
	spawn := func(ctx context.Context) (bridge.Worker, error) {
		sup := supervisor.NewWithConfig(supervisor.Config{Engine: eng, Logger: &log})
		return worker.StartPipe(sup, log), nil
	}
	cfg := manager.Config{
		Registry:     reg,
		DefaultModel: o.defaultModel,
		Spawner:      spawn,
		WorkerMode:   "inprocess",
		InitTimeout:  5 * time.Second,
		StallTimeout: 5 * time.Second,
		Logger:       &log,
	}
	if o.withStore {
		st, err := store.Open(filepath.Join(t.TempDir(), "e2e.db"))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		cfg.Store = st
	}
	mgr := manager.NewWithConfig(cfg)
	t.Cleanup(func() { _ = mgr.Close() })
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
