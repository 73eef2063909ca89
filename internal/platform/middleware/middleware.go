// Package middleware provides the HTTP middleware chain: request
// correlation, a pinned request time, registrar identity, and panic
// recovery. Values land in requestcontext so services never touch net/http.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"registryd/internal/platform/metrics"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/platform/httputil"
	"registryd/pkg/requestcontext"
)

// Header names of the registrar-facing protocol adapter.
const (
	HeaderRegistrarID    = "X-Registrar-Id"
	HeaderClientTrid     = "X-Client-Trid"
	HeaderSuperuserToken = "X-Superuser-Token"
	HeaderRequestID      = "X-Request-Id"
)

// RequestID assigns a correlation ID to every request and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestTime pins one instant for the whole request. Every projection and
// flow decision downstream reads this value, so a single request observes a
// single consistent "now".
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRegistrar authenticates the registrar from the session header and
// injects its identity and client TRID. Requests without a valid registrar
// are rejected before reaching any handler.
func RequireRegistrar(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			registrar, err := id.ParseRegistrarID(r.Header.Get(HeaderRegistrarID))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized request - missing or malformed registrar id",
					slog.String("request_id", requestcontext.RequestID(ctx)),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or malformed registrar identity"))
				return
			}
			ctx = requestcontext.WithRegistrarID(ctx, registrar)
			if clientTrid := r.Header.Get(HeaderClientTrid); clientTrid != "" {
				ctx = requestcontext.WithClientTrid(ctx, clientTrid)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Superuser marks requests carrying the operator token. An empty configured
// token disables the override.
func Superuser(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				supplied := r.Header.Get(HeaderSuperuserToken)
				if supplied != "" && subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) == 1 {
					ctx := requestcontext.WithSuperuser(r.Context(), true)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recovery converts panics into 500 responses instead of dropped
// connections.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.ErrorContext(r.Context(), "panic in handler",
						slog.String("request_id", requestcontext.RequestID(r.Context())),
						slog.Any("panic", recovered),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logger emits one line per request.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", requestcontext.RequestID(r.Context())),
			)
		})
	}
}

// Metrics records request counts and latency per route pattern.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			m.Observe(route, strconv.Itoa(recorder.status), time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
