// Package middleware provides HTTP middleware for automatic tracing.
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	tracelens "github.com/tracelens/tracelens-go"
)

// maxCapturedBody caps how much of a request or response body is recorded
// on the trace.
const maxCapturedBody = 64 << 10

// HTTPConfig holds configuration for the HTTP middleware.
type HTTPConfig struct {
	// Client is the TraceLens client traces are recorded against. Required.
	Client *tracelens.Client

	// TraceName names the trace for a request. Defaults to "{method} {path}".
	TraceName func(r *http.Request) string

	// CaptureRequestBody records the request body as the trace input.
	// The body stays readable for the handler.
	CaptureRequestBody bool

	// CaptureResponseBody records the response body in the trace output.
	CaptureResponseBody bool

	// SkipPaths is a list of paths to skip tracing.
	SkipPaths []string

	// ExtractUserID extracts a user ID from the request.
	ExtractUserID func(r *http.Request) string

	// ExtractSessionID extracts a session ID from the request.
	ExtractSessionID func(r *http.Request) string
}

// HTTP returns a middleware that opens a trace per request and propagates it
// through the request context, so handlers can attach spans with
// client.StartSpan or client.Track.
func HTTP(config HTTPConfig) func(http.Handler) http.Handler {
	if config.TraceName == nil {
		config.TraceName = func(r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}
	}

	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			client := config.Client
			if client == nil || !client.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			opts := tracelens.TraceOptions{
				Name: config.TraceName(r),
				Metadata: map[string]any{
					"http.method":     r.Method,
					"http.url":        r.URL.String(),
					"http.path":       r.URL.Path,
					"http.host":       r.Host,
					"http.user_agent": r.UserAgent(),
				},
			}
			if config.ExtractUserID != nil {
				opts.UserID = config.ExtractUserID(r)
			}
			if config.ExtractSessionID != nil {
				opts.SessionID = config.ExtractSessionID(r)
			}

			if config.CaptureRequestBody && r.Body != nil {
				if body, err := io.ReadAll(r.Body); err == nil {
					r.Body.Close()
					r.Body = io.NopCloser(bytes.NewReader(body))
					opts.Input = truncateBody(body)
				}
			}

			trace, ctx := client.StartTrace(r.Context(), opts)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			if config.CaptureResponseBody {
				rw.body = &bytes.Buffer{}
			}

			start := time.Now()
			next.ServeHTTP(rw, r.WithContext(ctx))
			duration := time.Since(start)

			trace.Update(tracelens.TraceUpdateOptions{
				Metadata: map[string]any{
					"http.status_code": rw.statusCode,
					"http.duration_ms": duration.Milliseconds(),
				},
			})

			output := map[string]any{"status_code": rw.statusCode}
			if rw.body != nil {
				output["body"] = rw.body.String()
			}
			trace.End(&tracelens.TraceEndOptions{Output: output})
		})
	}
}

func truncateBody(b []byte) string {
	if len(b) > maxCapturedBody {
		b = b[:maxCapturedBody]
	}
	return string(b)
}

// responseWriter wraps http.ResponseWriter to capture the status code and,
// when body is non-nil, up to maxCapturedBody bytes of the response.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.body != nil {
		if room := maxCapturedBody - rw.body.Len(); room > 0 {
			if len(b) > room {
				rw.body.Write(b[:room])
			} else {
				rw.body.Write(b)
			}
		}
	}
	return rw.ResponseWriter.Write(b)
}
