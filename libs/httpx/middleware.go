package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, m ...Middleware) http.Handler {
	// Apply in reverse so Chain(h, a, b) becomes a(b(h)).
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func WithBodyLimit(limitBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func WithTimeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

// Service wraps a service mux with the middleware every service runs: tracing outermost,
// then request ids, access logging and a 1 MiB body cap.
func Service(mux http.Handler, logger *slog.Logger, operation string, extra ...Middleware) http.Handler {
	m := append([]Middleware{
		WithRequestID,
		WithAccessLog(logger),
		WithBodyLimit(1 << 20),
	}, extra...)
	return otelhttp.NewHandler(Chain(mux, m...), operation)
}
