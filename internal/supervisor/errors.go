package supervisor

import (
	"context"
	"errors"
)

// errAborted is returned from the token callback once an abort was observed.
var errAborted = errors.New("generation aborted")

// dependencyUnavailableError signals a missing runtime dependency (e.g. the
// binary was built without llama.cpp).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}

// modelNotFoundError is returned when a model id is not in the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for a model id missing from the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var m modelNotFoundError
	return errors.As(err, &m)
}

// loadFailureCause names the class of a load failure for logs and events.
func loadFailureCause(err error) string {
	switch {
	case IsModelNotFound(err):
		return "model_not_found"
	case IsDependencyUnavailable(err):
		return "dependency_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "engine"
}
