package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the HTTP layer's logger. It discards until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs the logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// reqLogger returns zlog tagged with the chi request id, if any.
func reqLogger(r *http.Request) zerolog.Logger {
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		return zlog.With().Str("request_id", rid).Logger()
	}
	return zlog
}

// loggingLineWriter logs complete NDJSON lines of a chat response at debug
// level. A trailing partial line is held until its newline arrives.
type loggingLineWriter struct {
	buf []byte
	log zerolog.Logger
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if line := lw.buf[:idx]; len(line) > 0 {
			lw.log.Debug().Bytes("line", line).Msg("chat>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

var defaultLogLevel = parseLevel(os.Getenv("INFERBRIDGE_REQUEST_LOG"))

// SetRequestLogLevel sets the default per-request log level.
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

// requestLogLevel applies ?log= (1 means debug), then X-Log-Level, then the
// default.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logRequestEnd logs the outcome of a long-running request at lvl. Failures
// are logged from LevelError up; successes from LevelInfo.
func logRequestEnd(r *http.Request, lvl LogLevel, what string, status int, start time.Time, err error) {
	if lvl == LevelOff || (lvl < LevelInfo && err == nil) {
		return
	}
	l := reqLogger(r)
	ev := l.Info()
	if err != nil {
		ev = l.Error().Err(err)
	}
	ev.Int("status", status).Dur("dur", time.Since(start)).Msg(what + " end")
}
