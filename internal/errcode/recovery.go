package errcode

// Action is the recovery a UI should offer for a code.
type Action string

const (
	ActionDismiss         Action = "dismiss"
	ActionClearCacheRetry Action = "clear-cache-and-retry"
	ActionRetrySmaller    Action = "retry-with-smaller-model"
	ActionRetry           Action = "retry"
	ActionRetryLater      Action = "retry-later"
	ActionReport          Action = "report"
)

// Recovery returns the distinct recovery action for code. Unrecognized codes
// are treated as Unknown.
func Recovery(code Code) Action {
	switch code {
	case WebGPUNotSupported:
		return ActionDismiss
	case ModelLoadFailed:
		return ActionClearCacheRetry
	case OutOfMemory:
		return ActionRetrySmaller
	case GenerationError:
		return ActionRetry
	case NetworkError:
		return ActionRetryLater
	default:
		return ActionReport
	}
}
