package manager

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferbridge/internal/bridge"
	"inferbridge/internal/protocol"
	"inferbridge/internal/store"
	"inferbridge/internal/supervisor"
	"inferbridge/internal/worker"
	"inferbridge/pkg/types"
)

// echoEngine replies with the words of the last message. Model ids starting
// with "bad" fail to load. When gate is set, every token waits for a value.
type echoEngine struct {
	gate chan struct{}
}

func (e *echoEngine) Load(ctx context.Context, modelID string, onProgress func(float64, string)) (supervisor.Session, error) {
	if strings.HasPrefix(modelID, "bad") {
		return nil, errors.New("no GPU adapter available")
	}
	onProgress(0.5, "Loading...")
	onProgress(1, "Ready")
	return &echoSession{gate: e.gate}, nil
}

type echoSession struct{ gate chan struct{} }

func (s *echoSession) Generate(ctx context.Context, msgs []protocol.ChatMessage, _ supervisor.InferParams, onToken func(string) error) (*protocol.Usage, error) {
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

func (s *echoSession) Close() error { return nil }

var testRegistry = []types.Model{
	{ID: "m1", Name: "m1", Path: "/models/m1.gguf"},
	{ID: "m2", Name: "m2", Path: "/models/m2.gguf"},
	{ID: "bad-gpu", Name: "bad-gpu", Path: "/models/bad-gpu.gguf"},
}

type testOpts struct {
	gate  chan struct{}
	store bool
}

// newTestManager wires a Manager to an in-process worker running echoEngine.
func newTestManager(t *testing.T, o testOpts) *Manager {
	t.Helper()
	log := zerolog.Nop()
	eng := &echoEngine{gate: o.gate}
	spawn := func(ctx context.Context) (bridge.Worker, error) {
		sup := supervisor.NewWithConfig(supervisor.Config{Engine: eng, Logger: &log})
		return worker.StartPipe(sup, log), nil
	}
	cfg := Config{
		Registry:     testRegistry,
		DefaultModel: "m1",
		Spawner:      spawn,
		WorkerMode:   "inprocess",
		InitTimeout:  5 * time.Second,
		StallTimeout: 5 * time.Second,
		Logger:       &log,
	}
	if o.store {
		st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		cfg.Store = st
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustInit(t *testing.T, m *Manager, model string) {
	t.Helper()
	resp, err := m.Init(testCtx(t), model)
	if err != nil || !resp.Success {
		t.Fatalf("init %q: resp=%+v err=%v", model, resp, err)
	}
}

func userReq(content string) types.ChatRequest {
	return types.ChatRequest{Messages: []types.Message{{Role: "user", Content: content}}}
}

// decodeLines parses an NDJSON chat body.
func decodeLines(t *testing.T, body []byte) []protocol.Event {
	t.Helper()
	var out []protocol.Event
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		ev, err := protocol.UnmarshalEvent(sc.Bytes())
		if err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// funcWriter runs fn after every write.
type funcWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(n int)
	n   int
}

func (w *funcWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.buf.Write(p)
	w.n++
	c := w.n
	w.mu.Unlock()
	if w.fn != nil {
		w.fn(c)
	}
	return n, err
}
