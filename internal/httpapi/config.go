package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// chatTimeout bounds a whole /v1/chat request, including an implicit model
// load. Zero means no limit beyond server/connection timeouts.
var chatTimeout time.Duration

// SetChatTimeout sets the chat request timeout (0 disables).
func SetChatTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	chatTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added and
// the events WebSocket only accepts same-origin upgrades.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

var (
	defaultCORSMethods = []string{"GET", "POST", "OPTIONS"}
	defaultCORSHeaders = []string{"Content-Type", "X-Log-Level", "X-Request-Id"}
)

// SetCORSOptions configures CORS behavior for the HTTP server. Empty methods
// or headers fall back to what the API uses.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
	if len(corsAllowedMethods) == 0 {
		corsAllowedMethods = append([]string(nil), defaultCORSMethods...)
	}
	if len(corsAllowedHeaders) == 0 {
		corsAllowedHeaders = append([]string(nil), defaultCORSHeaders...)
	}
}

// originAllowed reports whether a cross-origin browser may use the API.
func originAllowed(origin string) bool {
	if !corsEnabled {
		return false
	}
	for _, o := range corsAllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
