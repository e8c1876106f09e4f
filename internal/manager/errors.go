package manager

import (
	"errors"
	"net/http"

	"inferbridge/internal/errcode"
	"inferbridge/pkg/types"
)

// tooBusyError signals a pending chat or conflicting load for 429 mapping.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string   { return "too busy: " + e.reason }
func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string   { return "model not found: " + e.id }
func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

// ErrModelNotFound returns an error for a model id missing from the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// notReadyError is returned when a chat arrives before any model is loaded.
type notReadyError struct{}

func (notReadyError) Error() string   { return "no model loaded" }
func (notReadyError) StatusCode() int { return http.StatusServiceUnavailable }

// IsNotReady reports whether err means no model is loaded.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

type badRequestError struct{ msg string }

func (e badRequestError) Error() string   { return e.msg }
func (e badRequestError) StatusCode() int { return http.StatusBadRequest }

// loadFailedError carries the classified reason a load failed.
type loadFailedError struct{ detail types.ErrorDetail }

func (e loadFailedError) Error() string     { return e.detail.Code + ": " + e.detail.Message }
func (e loadFailedError) StatusCode() int   { return http.StatusServiceUnavailable }
func (e loadFailedError) ErrorCode() string { return e.detail.Code }

type closedError struct{}

func (closedError) Error() string   { return "service is shutting down" }
func (closedError) StatusCode() int { return http.StatusServiceUnavailable }

func detailOf(e *errcode.Error) *types.ErrorDetail {
	if e == nil {
		return nil
	}
	return &types.ErrorDetail{
		Code:     string(e.Code),
		Message:  e.Message,
		Recovery: string(errcode.Recovery(e.Code)),
	}
}
