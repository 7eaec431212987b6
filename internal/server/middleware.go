package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Shared-secret header checked by the auth middleware.
const headerAPIKey = "X-API-Key"

const stackBufferSize = 4096

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares so the first listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}

		return final
	}
}

// RecoveryMiddleware converts handler panics into 500 responses instead of
// killing the worker process mid-request.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				stack := make([]byte, stackBufferSize)
				length := runtime.Stack(stack, false)
				log.Error("Panic recovered: %v\n%s", recovered, string(stack[:length]))

				writeError(responseWriter, http.StatusInternalServerError,
					"internal server error", codeSynthesisError)
			}()

			next.ServeHTTP(responseWriter, request)
		})
	}
}

// LoggingMiddleware assigns each request an ID and logs method, path, status
// and duration on completion.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()

			wrapped := &statusRecorder{ResponseWriter: responseWriter, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, request)

			log.Info("[%s] %s %s %d %v",
				requestID, request.Method, request.URL.Path,
				wrapped.statusCode, time.Since(start))
		})
	}
}

// BodyLimitMiddleware caps request body size before any handler reads it.
func BodyLimitMiddleware(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			request.Body = http.MaxBytesReader(responseWriter, request.Body, maxBytes)
			next.ServeHTTP(responseWriter, request)
		})
	}
}

// AuthMiddleware enforces the optional shared-secret header on every
// endpoint except the liveness probe. With no key configured all requests
// pass; the platform load balancer performs primary authentication.
func AuthMiddleware(apiKey string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			if apiKey == "" || request.URL.Path == PathPing {
				next.ServeHTTP(responseWriter, request)

				return
			}

			provided := request.Header.Get(headerAPIKey)
			if provided == "" {
				writeError(responseWriter, http.StatusUnauthorized,
					"unauthorized: missing API key, provide the "+headerAPIKey+" header",
					"unauthorized")

				return
			}

			if provided != apiKey {
				writeError(responseWriter, http.StatusUnauthorized,
					"unauthorized: invalid API key", "unauthorized")

				return
			}

			next.ServeHTTP(responseWriter, request)
		})
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
	}

	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(body []byte) (int, error) {
	if !r.written {
		r.statusCode = http.StatusOK
		r.written = true
	}

	return r.ResponseWriter.Write(body)
}
