package bridge

import "errors"

var (
	// ErrNotReady is returned by Chat before a model finished loading.
	ErrNotReady = errors.New("model not ready")
	// ErrBusy is returned while a chat is pending.
	ErrBusy = errors.New("generation in progress")
	// ErrInitPending is returned by Init for a different model while another
	// init is still in flight.
	ErrInitPending = errors.New("another model is loading")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("bridge closed")
	// ErrEmptyModel is returned by Init for an empty model id.
	ErrEmptyModel = errors.New("model id is required")
	// ErrNoMessages is returned by Chat for an empty conversation.
	ErrNoMessages = errors.New("at least one message is required")
)
