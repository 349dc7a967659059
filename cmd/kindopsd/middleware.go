package main

import (
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type middleware func(http.Handler) http.Handler

// chain applies middlewares left to right: chain(m1, m2)(h) == m1(m2(h)).
func chain(middlewares ...middleware) middleware {
	return func(next http.Handler) http.Handler {
		for index := len(middlewares) - 1; index >= 0; index-- {
			next = middlewares[index](next)
		}
		return next
	}
}

func recovery(logger zerolog.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error().
						Interface("panic", recovered).
						Str("stack", string(debug.Stack())).
						Str("path", request.URL.Path).
						Msg("panic recovered")
					writeErrorResponse(writer, http.StatusInternalServerError, errCodeInternalError, "internal server error")
				}
			}()
			next.ServeHTTP(writer, request)
		})
	}
}

func requestLogging(logger zerolog.Logger, metrics *metricsRegistry) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			startedAt := time.Now()
			recorder := &responseWriter{ResponseWriter: writer, status: http.StatusOK}
			next.ServeHTTP(recorder, request)
			if metrics != nil {
				metrics.observeHTTP(request.Method, recorder.status)
			}
			logger.Info().
				Str("method", request.Method).
				Str("path", request.URL.Path).
				Int("status", recorder.status).
				Dur("duration", time.Since(startedAt)).
				Str("remote_addr", request.RemoteAddr).
				Msg("http request")
		})
	}
}

// cors allows the configured browser origins. Preflight requests are
// answered here and never reach the mux.
func cors(allowedOrigins []string) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			origin := request.Header.Get("Origin")
			allowed := origin != "" && (slices.Contains(allowedOrigins, origin) || slices.Contains(allowedOrigins, "*"))
			if allowed {
				header := writer.Header()
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Credentials", "true")
				header.Add("Vary", "Origin")
			}
			if request.Method == http.MethodOptions && request.Header.Get("Access-Control-Request-Method") != "" {
				if !allowed {
					writer.WriteHeader(http.StatusForbidden)
					return
				}
				header := writer.Header()
				header.Set("Access-Control-Allow-Methods", strings.Join([]string{
					http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
				}, ", "))
				if requested := request.Header.Get("Access-Control-Request-Headers"); requested != "" {
					header.Set("Access-Control-Allow-Headers", requested)
				}
				header.Set("Access-Control-Max-Age", "600")
				writer.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (writer *responseWriter) WriteHeader(status int) {
	if !writer.wroteHeader {
		writer.status = status
		writer.wroteHeader = true
	}
	writer.ResponseWriter.WriteHeader(status)
}

func (writer *responseWriter) Write(payload []byte) (int, error) {
	writer.wroteHeader = true
	return writer.ResponseWriter.Write(payload)
}

func (writer *responseWriter) Unwrap() http.ResponseWriter {
	return writer.ResponseWriter
}
