package httpapi

import (
	"context"
	"io"
	"sync"

	"inferbridge/pkg/types"
)

// mockService is a scriptable Service.
type mockService struct {
	mu       sync.Mutex
	models   []types.Model
	status   types.StatusResponse
	ready    bool
	initResp types.InitResponse
	initErr  error
	chatErr  error
	// chatLines are written before chatErr is returned.
	chatLines  []string
	chatBlock  bool
	lastChat   types.ChatRequest
	aborts     int
	terminates int
	messages   types.MessagesResponse
	msgErr     error
	notes      chan types.Notification
	unsubbed   chan struct{}
}

func (m *mockService) ListModels() []types.Model    { return append([]types.Model(nil), m.models...) }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) Init(ctx context.Context, model string) (types.InitResponse, error) {
	if m.initErr != nil {
		return types.InitResponse{}, m.initErr
	}
	resp := m.initResp
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

func (m *mockService) Chat(ctx context.Context, req types.ChatRequest, w io.Writer, flush func()) error {
	m.mu.Lock()
	m.lastChat = req
	m.mu.Unlock()
	for _, l := range m.chatLines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
	}
	if m.chatBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.chatErr
}

func (m *mockService) Abort() {
	m.mu.Lock()
	m.aborts++
	m.mu.Unlock()
}

func (m *mockService) Terminate() error {
	m.mu.Lock()
	m.terminates++
	m.mu.Unlock()
	return nil
}

func (m *mockService) Messages(ctx context.Context, id string) (types.MessagesResponse, error) {
	if m.msgErr != nil {
		return types.MessagesResponse{}, m.msgErr
	}
	resp := m.messages
	resp.ConversationID = id
	return resp, nil
}

func (m *mockService) Subscribe() (<-chan types.Notification, func()) {
	var once sync.Once
	return m.notes, func() {
		once.Do(func() {
			if m.unsubbed != nil {
				close(m.unsubbed)
			}
		})
	}
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

type mockCodedError struct{ mockHTTPError }

func (mockCodedError) ErrorCode() string { return "OUT_OF_MEMORY" }
