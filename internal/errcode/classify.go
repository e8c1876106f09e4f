package errcode

import (
	"context"
	"errors"
	"strings"
)

// Phase tells Classify which fallback applies when no pattern matches.
type Phase int

const (
	PhaseOther Phase = iota
	PhaseLoad
	PhaseGenerate
)

// Classify maps a raw failure message to a Code. The engine offers no
// structured errors, so this is a best-effort substring heuristic:
//
//	webgpu / adapter             -> WEBGPU_NOT_SUPPORTED
//	memory / oom                 -> OUT_OF_MEMORY
//	load phase                   -> MODEL_LOAD_FAILED
//	generate phase               -> GENERATION_ERROR
//	network / fetch (other only) -> NETWORK_ERROR
//	otherwise                    -> UNKNOWN
//
// A fetch failure while loading is still a load failure: its recovery is
// clearing the cached weights, not waiting for the network.
func Classify(phase Phase, msg string) Code {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "webgpu"), strings.Contains(m, "adapter"):
		return WebGPUNotSupported
	case strings.Contains(m, "memory"), containsWord(m, "oom"):
		return OutOfMemory
	}
	switch phase {
	case PhaseLoad:
		return ModelLoadFailed
	case PhaseGenerate:
		return GenerationError
	}
	if strings.Contains(m, "network") || strings.Contains(m, "fetch") {
		return NetworkError
	}
	return Unknown
}

// FromError classifies err. An *Error keeps its code; a context deadline is a
// phase failure; anything else goes through Classify.
func FromError(phase Phase, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(fallback(phase), "timed out: "+err.Error())
	}
	return New(Classify(phase, err.Error()), err.Error())
}

func fallback(p Phase) Code {
	switch p {
	case PhaseLoad:
		return ModelLoadFailed
	case PhaseGenerate:
		return GenerationError
	}
	return Unknown
}

// containsWord matches w as a standalone token so that e.g. "room" does not
// read as an out-of-memory condition.
func containsWord(s, w string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], w)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(w)
		if (start == 0 || !isAlnum(s[start-1])) && (end == len(s) || !isAlnum(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
