// Package errcode holds the closed failure taxonomy shared by both sides of
// the worker boundary. Every raw failure is mapped into exactly one Code
// before it crosses that boundary.
package errcode

import "errors"

// Code is a member of the closed error taxonomy.
type Code string

const (
	WebGPUNotSupported Code = "WEBGPU_NOT_SUPPORTED"
	ModelLoadFailed    Code = "MODEL_LOAD_FAILED"
	OutOfMemory        Code = "OUT_OF_MEMORY"
	GenerationError    Code = "GENERATION_ERROR"
	NetworkError       Code = "NETWORK_ERROR"
	Unknown            Code = "UNKNOWN"
)

// Codes lists every valid code in declaration order.
var Codes = []Code{WebGPUNotSupported, ModelLoadFailed, OutOfMemory, GenerationError, NetworkError, Unknown}

// Valid reports whether c is one of the known codes.
func (c Code) Valid() bool {
	for _, k := range Codes {
		if c == k {
			return true
		}
	}
	return false
}

// Error is a classified failure. It is the only error shape that crosses the
// worker boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// New constructs a classified error.
func New(code Code, msg string) *Error { return &Error{Code: code, Message: msg} }

// CodeOf returns the code carried by err, or Unknown when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
