package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferbridge/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	Init(ctx context.Context, model string) (types.InitResponse, error)
	Chat(ctx context.Context, req types.ChatRequest, w io.Writer, flush func()) error
	Abort()
	Terminate() error
	Messages(ctx context.Context, conversationID string) (types.MessagesResponse, error)
	Subscribe() (<-chan types.Notification, func())
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	// Compression for JSON endpoints; NDJSON and WebSocket traffic is left alone.
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Post("/init", func(w http.ResponseWriter, r *http.Request) {
			var req types.InitRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			start := time.Now()
			lvl := requestLogLevel(r)
			ctx, cancel := requestContext(r, 0)
			defer cancel()
			resp, err := svc.Init(ctx, req.Model)
			if err != nil {
				if aborted(r) {
					return
				}
				status := writeServiceError(w, err)
				logRequestEnd(r, lvl, "init", status, start, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
			logRequestEnd(r, lvl, "init", http.StatusOK, start, nil)
		})

		r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
			var req types.ChatRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if len(req.Messages) == 0 {
				writeJSONError(w, http.StatusBadRequest, "messages are required", "")
				return
			}

			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			var flush func()
			if f, ok := w.(http.Flusher); ok {
				flush = f.Flush
			}
			start := time.Now()
			tw := &trackingWriter{w: w}
			writer := io.Writer(tw)
			lvl := requestLogLevel(r)
			if lvl >= LevelDebug {
				writer = io.MultiWriter(tw, &loggingLineWriter{log: reqLogger(r)})
			}
			if lvl >= LevelInfo {
				l := reqLogger(r)
				l.Info().Str("model", req.Model).Int("messages", len(req.Messages)).
					Str("conversation_id", req.ConversationID).Msg("chat start")
			}
			// Client disconnect, shutdown and the chat timeout all end the
			// generation through ctx.
			ctx, cancel := requestContext(r, chatTimeout)
			defer cancel()
			err := svc.Chat(ctx, req, writer, flush)
			switch {
			case err == nil:
				logRequestEnd(r, lvl, "chat", http.StatusOK, start, nil)
			case aborted(r):
			case tw.wrote:
				logRequestEnd(r, lvl, "chat", http.StatusOK, start, err)
			default:
				w.Header().Del("Cache-Control")
				w.Header().Del("X-Accel-Buffering")
				status := writeServiceError(w, err)
				logRequestEnd(r, lvl, "chat", status, start, err)
			}
		})

		r.Post("/abort", func(w http.ResponseWriter, r *http.Request) {
			svc.Abort()
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Post("/terminate", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.Terminate(); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Get("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
			resp, err := svc.Messages(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Get("/events", serveEvents(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(svc.Status().Status))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSON enforces the JSON content type and the body limit. An empty
// body decodes as the zero value. It writes the error response itself and
// reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		// Oversized bodies also land here; keep the message generic.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}

// trackingWriter records whether any part of the response body was written.
type trackingWriter struct {
	w     io.Writer
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.w.Write(p)
}
