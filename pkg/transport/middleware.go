package transport

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/architechdev/feedsync-go/pkg/telemetry"
)

// Middleware wraps a RoundTripper. Middlewares compose as an onion: the
// first registered middleware sees the request first.
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain applies middlewares to base in registration order.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		rt = mws[i](rt)
	}
	return rt
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// Logging emits one structured log line per request. Header values never
// reach the log; the telemetry filter handles anything else sensitive.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if logger == nil {
				return next.RoundTrip(req)
			}
			start := time.Now()
			resp, err := next.RoundTrip(req)
			attrs := []any{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				logger.Warn("request failed", append(attrs, slog.Any("error", err))...)
				return resp, err
			}
			logger.Debug("request complete", append(attrs, slog.Int("status", resp.StatusCode))...)
			return resp, nil
		})
	}
}

// Tracing opens a client span per request and records the response status.
func Tracing() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			ctx, span := telemetry.StartSpan(req.Context(), "http "+req.Method+" "+req.URL.Path,
				trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(telemetry.SanitizeAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.url", req.URL.String()),
			)...)
			resp, err := next.RoundTrip(req.WithContext(ctx))
			if resp != nil {
				span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			}
			telemetry.EndSpan(span, err)
			return resp, err
		})
	}
}
