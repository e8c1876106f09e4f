package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
	"inferbridge/internal/stream"
	"inferbridge/internal/supervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInit_ProgressAndStatusSequence(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.initAsync("m1")
	w := h.nextWorker(t)
	cmd := w.expect(t, protocol.TypeInit)
	if got := cmd.(protocol.Init).Model; got != "m1" {
		t.Fatalf("model = %q", got)
	}
	w.emit(
		protocol.InitProgress{Progress: 0.5, Text: "Loading..."},
		protocol.InitProgress{Progress: 1.0, Text: "Ready"},
		protocol.InitComplete{Success: true},
	)
	r := waitInit(t, res)
	if !r.ok || r.err != nil {
		t.Fatalf("init: ok=%v err=%v", r.ok, r.err)
	}
	statuses, progress, errs := h.rec.snapshot()
	if diff := cmp.Diff([]Status{supervisor.StatusLoading, supervisor.StatusReady}, statuses); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	wantProgress := []protocol.InitProgress{{Progress: 0.5, Text: "Loading..."}, {Progress: 1, Text: "Ready"}}
	if diff := cmp.Diff(wantProgress, progress); diff != "" {
		t.Fatalf("progress (-want +got):\n%s", diff)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if h.b.Status() != supervisor.StatusReady || h.b.Model() != "m1" {
		t.Fatalf("status=%s model=%s", h.b.Status(), h.b.Model())
	}
}

func TestInit_FailureReportsErrorOnce(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.initAsync("bad-model")
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	w.emit(
		protocol.Error{Message: "WebGPU adapter not found", Code: errcode.WebGPUNotSupported},
		protocol.InitComplete{Success: false, Error: "WebGPU adapter not found"},
	)
	r := waitInit(t, res)
	if r.ok || r.err != nil {
		t.Fatalf("init: ok=%v err=%v", r.ok, r.err)
	}
	_, _, errs := h.rec.snapshot()
	if len(errs) != 1 || errs[0].Code != errcode.WebGPUNotSupported {
		t.Fatalf("errors = %v", errs)
	}
	if h.b.Status() != supervisor.StatusError {
		t.Fatalf("status = %s", h.b.Status())
	}
	if e := h.b.LastInitError(); e == nil || e.Code != errcode.WebGPUNotSupported {
		t.Fatalf("last init error = %v", e)
	}
}

func TestInit_CompleteWithoutErrorEvent(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.initAsync("m1")
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	w.emit(protocol.InitComplete{Success: false, Error: "corrupt file"})
	if r := waitInit(t, res); r.ok {
		t.Fatalf("expected false")
	}
	_, _, errs := h.rec.snapshot()
	want := []*errcode.Error{errcode.New(errcode.ModelLoadFailed, "corrupt file")}
	if diff := cmp.Diff(want, errs); diff != "" {
		t.Fatalf("errors (-want +got):\n%s", diff)
	}
}

func TestInit_ConcurrentSameModelSharesOutcome(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.initAsync("m1")
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	second := h.initAsync("m1")
	// Give the second caller time to attach to the pending slot.
	time.Sleep(20 * time.Millisecond)
	w.emit(protocol.InitComplete{Success: true})

	a, b := waitInit(t, first), waitInit(t, second)
	if a != b || !a.ok {
		t.Fatalf("outcomes differ: %+v vs %+v", a, b)
	}
	if n := w.count(protocol.TypeInit); n != 1 {
		t.Fatalf("init sent %d times", n)
	}
}

func TestInit_DifferentModelWhilePending(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.initAsync("m1")
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)

	if _, err := h.b.Init(testCtx(), "m2"); !errors.Is(err, ErrInitPending) {
		t.Fatalf("err = %v, want ErrInitPending", err)
	}
	w.emit(protocol.InitComplete{Success: true})
	waitInit(t, first)
}

func TestInit_SameModelReadyDoesNotResend(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	ok, err := h.b.Init(testCtx(), "m1")
	if !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if n := w.count(protocol.TypeInit); n != 1 {
		t.Fatalf("init sent %d times", n)
	}
}

func TestInit_SwitchModelPassesThroughIdle(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	res := h.initAsync("m2")
	w.expect(t, protocol.TypeInit)
	w.emit(protocol.InitComplete{Success: true})
	if r := waitInit(t, res); !r.ok {
		t.Fatalf("switch failed")
	}
	statuses, _, _ := h.rec.snapshot()
	want := []Status{
		supervisor.StatusLoading, supervisor.StatusReady,
		supervisor.StatusIdle, supervisor.StatusLoading, supervisor.StatusReady,
	}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if h.b.Model() != "m2" {
		t.Fatalf("model = %q", h.b.Model())
	}
}

func TestInit_CallerContextCanceled(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.b.Init(ctx, "m1")
		errCh <- err
	}()
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	// The load itself carries on and a later caller sees its outcome.
	res := h.initAsync("m1")
	w.emit(protocol.InitComplete{Success: true})
	if r := waitInit(t, res); !r.ok {
		t.Fatalf("expected shared success")
	}
}

func TestInit_Timeout(t *testing.T) {
	h := newHarness(t, Options{InitTimeout: 50 * time.Millisecond})
	res := h.initAsync("m1")
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	if r := waitInit(t, res); r.ok || r.err != nil {
		t.Fatalf("init: %+v", r)
	}
	_, _, errs := h.rec.snapshot()
	if len(errs) != 1 || errs[0].Code != errcode.ModelLoadFailed {
		t.Fatalf("errors = %v", errs)
	}
	if !w.isClosed() {
		t.Fatalf("stuck worker not terminated")
	}
	if h.b.Status() != supervisor.StatusIdle {
		t.Fatalf("status = %s", h.b.Status())
	}
	// A fresh worker serves the retry.
	res = h.initAsync("m1")
	w2 := h.nextWorker(t)
	w2.expect(t, protocol.TypeInit)
	w2.emit(protocol.InitComplete{Success: true})
	if r := waitInit(t, res); !r.ok {
		t.Fatalf("retry failed")
	}
}

func TestInit_SpawnFailure(t *testing.T) {
	rec := &recorder{}
	b := New(func(context.Context) (Worker, error) {
		return nil, errors.New("exec: worker binary not found")
	}, Options{Handlers: rec.handlers()})
	defer b.Close()
	ok, err := b.Init(testCtx(), "m1")
	if ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	_, _, errs := rec.snapshot()
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
}

func TestInit_Validation(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.b.Init(testCtx(), ""); !errors.Is(err, ErrEmptyModel) {
		t.Fatalf("err = %v", err)
	}
	_ = h.b.Close()
	if _, err := h.b.Init(testCtx(), "m1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	if _, err := h.b.Chat(userMsg("hi"), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestChat_BeforeInitFailsFast(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.b.Chat(userMsg("Hi"), nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if _, err := h.b.Chat(nil, nil); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("err = %v, want ErrNoMessages", err)
	}
}

func TestChat_StreamsChunksInOrder(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")

	s, err := h.b.Chat(userMsg("Hi"), nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if w.count(protocol.TypeChat) != 0 {
		t.Fatalf("chat sent before first read")
	}
	got := make(chan []string, 1)
	go func() {
		var out []string
		for c, err := range s.Chunks(testCtx()) {
			if err != nil {
				break
			}
			out = append(out, c)
		}
		got <- out
	}()
	cmd := w.expect(t, protocol.TypeChat).(protocol.Chat)
	if diff := cmp.Diff(userMsg("Hi"), cmd.Messages); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
	w.emit(
		protocol.Chunk{Content: "Hello"},
		protocol.Chunk{Content: " world"},
		protocol.Chunk{Content: "!"},
		protocol.Done{},
	)
	chunks := <-got
	if diff := cmp.Diff([]string{"Hello", " world", "!"}, chunks); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
	if strings.Join(chunks, "") != "Hello world!" {
		t.Fatalf("text = %q", strings.Join(chunks, ""))
	}
	eventually(t, func() bool { return h.b.Status() == supervisor.StatusReady }, "ready after done")
	if h.b.LastUsage() != nil {
		t.Fatalf("usage should be unknown")
	}
}

func TestChat_ManyChunksNoDropNoDup(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, err := h.b.Chat(userMsg("count"), nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	var want strings.Builder
	res := make(chan string, 1)
	go func() {
		text, _ := s.Collect(testCtx())
		res <- text
	}()
	w.expect(t, protocol.TypeChat)
	for i := 0; i < 200; i++ {
		c := fmt.Sprintf("<%d>", i)
		want.WriteString(c)
		w.emit(protocol.Chunk{Content: c})
	}
	usage := &protocol.Usage{PromptTokens: 3, CompletionTokens: 200, TotalTokens: 203}
	w.emit(protocol.Done{Usage: usage})
	if got := <-res; got != want.String() {
		t.Fatalf("collected text mismatch:\n got %q\nwant %q", got, want.String())
	}
	eventually(t, func() bool { return h.b.LastUsage() != nil }, "usage recorded")
	if diff := cmp.Diff(usage, h.b.LastUsage()); diff != "" {
		t.Fatalf("usage (-want +got):\n%s", diff)
	}
}

func TestChat_ErrorEventFailsStream(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Collect(testCtx())
		errCh <- err
	}()
	w.expect(t, protocol.TypeChat)
	w.emit(protocol.Error{Message: "Out of memory", Code: errcode.OutOfMemory})
	err := <-errCh
	if !errcode.Is(err, errcode.OutOfMemory) {
		t.Fatalf("err = %v", err)
	}
	if err.Error() != "OUT_OF_MEMORY: Out of memory" {
		t.Fatalf("message = %q", err.Error())
	}
	_, _, errs := h.rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("chat failures must not reach OnError: %v", errs)
	}
	eventually(t, func() bool { return h.b.Status() == supervisor.StatusReady }, "ready after error")
	if _, err := h.b.Chat(userMsg("again"), nil); err != nil {
		t.Fatalf("slot not released: %v", err)
	}
}

func TestChat_SecondChatRejected(t *testing.T) {
	h := newHarness(t, Options{})
	h.ready(t, "m1")
	s, err := h.b.Chat(userMsg("one"), nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, err := h.b.Chat(userMsg("two"), nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if _, err := h.b.Init(testCtx(), "m2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("init while chat pending: %v", err)
	}
	s.Cancel()
}

func TestChat_MessagesCopied(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	msgs := userMsg("original")
	temp := 0.2
	cfg := &protocol.GenerateConfig{Temperature: &temp}
	s, _ := h.b.Chat(msgs, cfg)
	msgs[0].Content = "changed"
	temp = 1.5
	go func() { _, _ = s.Collect(testCtx()) }()
	cmd := w.expect(t, protocol.TypeChat).(protocol.Chat)
	if cmd.Messages[0].Content != "original" || *cmd.Config.Temperature != 0.2 {
		t.Fatalf("request mutated: %+v %v", cmd.Messages, *cmd.Config.Temperature)
	}
	w.emit(protocol.Done{})
}

func TestAbort_ClosesStreamWithoutFurtherChunks(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	ctx := testCtx()

	first := make(chan string, 1)
	go func() {
		c, _ := s.Next(ctx)
		first <- c
	}()
	w.expect(t, protocol.TypeChat)
	w.emit(protocol.Chunk{Content: "a"})
	if c := <-first; c != "a" {
		t.Fatalf("first chunk = %q", c)
	}

	h.b.Abort()
	h.b.Abort()
	w.expect(t, protocol.TypeAbort)
	w.emit(protocol.Chunk{Content: "late"}, protocol.Done{})

	if c, err := s.Next(ctx); err != io.EOF {
		t.Fatalf("after abort: chunk=%q err=%v, want EOF", c, err)
	}
	if s.Err() != nil {
		t.Fatalf("aborted stream must close, not fail: %v", s.Err())
	}
	eventually(t, func() bool { return h.b.Status() == supervisor.StatusReady }, "slot released")
	if n := w.count(protocol.TypeAbort); n != 1 {
		t.Fatalf("abort sent %d times", n)
	}
	if _, err := h.b.Chat(userMsg("next"), nil); err != nil {
		t.Fatalf("chat after abort: %v", err)
	}
}

func TestAbort_IdleAndReadyAreNoops(t *testing.T) {
	h := newHarness(t, Options{})
	h.b.Abort()
	select {
	case <-h.spawned:
		t.Fatalf("abort must not start a worker")
	default:
	}
	w := h.ready(t, "m1")
	h.b.Abort()
	if diff := cmp.Diff([]protocol.Command{protocol.Init{Model: "m1"}}, w.commands()); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
}

func TestAbort_UnreadStreamReleasesSlot(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	h.b.Abort()
	if !s.Terminal() {
		t.Fatalf("stream not closed")
	}
	if _, err := s.Next(testCtx()); err != io.EOF {
		t.Fatalf("err = %v", err)
	}
	if n := len(w.commands()); n != 1 {
		t.Fatalf("unexpected commands: %v", w.commands())
	}
	if _, err := h.b.Chat(userMsg("again"), nil); err != nil {
		t.Fatalf("slot not released: %v", err)
	}
}

func TestCancel_SendsAbortExactlyOnce(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := range s.Chunks(testCtx()) {
			if c == "stop" {
				break
			}
		}
	}()
	w.expect(t, protocol.TypeChat)
	w.emit(protocol.Chunk{Content: "go"}, protocol.Chunk{Content: "stop"})
	<-done
	w.expect(t, protocol.TypeAbort)
	s.Cancel()
	h.b.Abort()
	w.emit(protocol.Done{})
	eventually(t, func() bool { return h.b.Status() == supervisor.StatusReady }, "ready")
	if n := w.count(protocol.TypeAbort); n != 1 {
		t.Fatalf("abort sent %d times", n)
	}
	if s.Err() != nil {
		t.Fatalf("canceled stream has failure %v", s.Err())
	}
	if _, err := s.Next(testCtx()); !errors.Is(err, stream.ErrCanceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestTerminate_PendingStreamsReachTerminalState(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Collect(testCtx())
		errCh <- err
	}()
	w.expect(t, protocol.TypeChat)
	w.emit(protocol.Chunk{Content: "partial"})

	if err := h.b.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	err := <-errCh
	if !errcode.Is(err, errcode.Unknown) || !strings.Contains(err.Error(), "terminated") {
		t.Fatalf("err = %v", err)
	}
	if h.b.Status() != supervisor.StatusIdle || !w.isClosed() {
		t.Fatalf("status=%s closed=%v", h.b.Status(), w.isClosed())
	}
}

func TestTerminate_UnreadStream(t *testing.T) {
	h := newHarness(t, Options{})
	h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	_ = h.b.Terminate()
	if !s.Terminal() {
		t.Fatalf("unread stream left pending")
	}
	if _, err := s.Next(testCtx()); !errcode.Is(err, errcode.Unknown) {
		t.Fatalf("err = %v", err)
	}
}

func TestTerminate_ResolvesPendingInitFalse(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.initAsync("m1")
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	_ = h.b.Terminate()
	if r := waitInit(t, res); r.ok || r.err != nil {
		t.Fatalf("init: %+v", r)
	}
	// A later init spawns a fresh worker.
	res = h.initAsync("m1")
	w2 := h.nextWorker(t)
	w2.expect(t, protocol.TypeInit)
	w2.emit(protocol.InitComplete{Success: true})
	if r := waitInit(t, res); !r.ok {
		t.Fatalf("fresh init failed")
	}
}

func TestStallTimeout_ResetsWorker(t *testing.T) {
	h := newHarness(t, Options{StallTimeout: 50 * time.Millisecond})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Collect(testCtx())
		errCh <- err
	}()
	w.expect(t, protocol.TypeChat)
	err := <-errCh
	if !errcode.Is(err, errcode.Unknown) || !strings.Contains(err.Error(), "stalled") {
		t.Fatalf("err = %v", err)
	}
	if !w.isClosed() || h.b.Status() != supervisor.StatusIdle {
		t.Fatalf("closed=%v status=%s", w.isClosed(), h.b.Status())
	}
}

func TestWorkerExit_FailsPendingStream(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Collect(testCtx())
		errCh <- err
	}()
	w.expect(t, protocol.TypeChat)
	_ = w.Terminate()
	if err := <-errCh; !errcode.Is(err, errcode.Unknown) {
		t.Fatalf("err = %v", err)
	}
	eventually(t, func() bool { return h.b.Status() == supervisor.StatusIdle }, "idle after exit")
}

func TestWorkerExit_WhileIdleReportsError(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	_ = w.Terminate()
	eventually(t, func() bool {
		_, _, errs := h.rec.snapshot()
		return len(errs) == 1 && errs[0].Code == errcode.Unknown
	}, "exit reported")
	if _, err := h.b.Chat(userMsg("Hi"), nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v", err)
	}
}

func TestMalformedEvent_FatalOnlyToRequest(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.ready(t, "m1")
	s, _ := h.b.Chat(userMsg("Hi"), nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Collect(testCtx())
		errCh <- err
	}()
	w.expect(t, protocol.TypeChat)
	w.emit(protocol.Error{Message: "malformed message: unknown type \"bogus\"", Code: errcode.Unknown})
	if err := <-errCh; !errcode.Is(err, errcode.Unknown) {
		t.Fatalf("err = %v", err)
	}
	eventually(t, func() bool { return h.b.Status() == supervisor.StatusReady }, "bridge usable")
	if w.isClosed() {
		t.Fatalf("worker must survive a malformed event")
	}
}

func TestMalformedEvent_DuringInit(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.initAsync("m1")
	w := h.nextWorker(t)
	w.expect(t, protocol.TypeInit)
	w.emit(protocol.Error{Message: "malformed message: bad progress", Code: errcode.Unknown})
	if r := waitInit(t, res); r.ok {
		t.Fatalf("expected false")
	}
	_, _, errs := h.rec.snapshot()
	if len(errs) != 1 || errs[0].Code != errcode.Unknown {
		t.Fatalf("errors = %v", errs)
	}
}

// gatedSpawner blocks every spawn until release is closed.
type gatedSpawner struct {
	entered chan struct{}
	release chan struct{}
	workers chan *fakeWorker
}

func newGatedSpawner() *gatedSpawner {
	return &gatedSpawner{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
		workers: make(chan *fakeWorker, 8),
	}
}

func (g *gatedSpawner) spawn(context.Context) (Worker, error) {
	g.entered <- struct{}{}
	<-g.release
	w := newFakeWorker()
	g.workers <- w
	return w, nil
}

func (g *gatedSpawner) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("spawn not started")
	}
}

func TestInit_SpawnDoesNotBlockReaders(t *testing.T) {
	g := newGatedSpawner()
	b := New(g.spawn, Options{})
	defer b.Close()
	res := make(chan initResult, 2)
	go func() {
		ok, err := b.Init(testCtx(), "m1")
		res <- initResult{ok, err}
	}()
	g.waitEntered(t)

	got := make(chan Status, 1)
	go func() { got <- b.Status() }()
	select {
	case s := <-got:
		if s != supervisor.StatusLoading {
			t.Fatalf("status = %s", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("Status blocked while a worker was spawning")
	}
	if _, err := b.Init(testCtx(), "m2"); !errors.Is(err, ErrInitPending) {
		t.Fatalf("err = %v", err)
	}
	go func() {
		ok, err := b.Init(testCtx(), "m1")
		res <- initResult{ok, err}
	}()

	close(g.release)
	w := <-g.workers
	w.expect(t, protocol.TypeInit)
	w.emit(protocol.InitComplete{Success: true})
	for i := 0; i < 2; i++ {
		if r := waitInit(t, res); !r.ok || r.err != nil {
			t.Fatalf("init %d: %+v", i, r)
		}
	}
	if n := w.count(protocol.TypeInit); n != 1 {
		t.Fatalf("init sent %d times", n)
	}
}

func TestTerminate_DuringSpawnStopsNewWorker(t *testing.T) {
	g := newGatedSpawner()
	b := New(g.spawn, Options{})
	defer b.Close()
	res := make(chan initResult, 1)
	go func() {
		ok, err := b.Init(testCtx(), "m1")
		res <- initResult{ok, err}
	}()
	g.waitEntered(t)
	if err := b.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	close(g.release)
	w := <-g.workers
	if r := waitInit(t, res); r.ok || r.err != nil {
		t.Fatalf("init: %+v", r)
	}
	eventually(t, w.isClosed, "spawned worker terminated")
	if b.Status() != supervisor.StatusIdle {
		t.Fatalf("status = %s", b.Status())
	}
	if n := len(w.commands()); n != 0 {
		t.Fatalf("discarded worker got commands: %v", w.commands())
	}
}
