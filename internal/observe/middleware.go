package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithCurrentItem makes every request span and log line carry the id
// returned by fn, typically the item the learner is working on. An empty
// id is omitted.
func WithCurrentItem(fn func() string) MiddlewareOption {
	return func(mw *middleware) { mw.currentItem = fn }
}

type middleware struct {
	metrics     *Metrics
	prop        propagation.TextMapPropagator
	currentItem func() string
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware traces and times every request on the observability
// listener. It continues an incoming W3C trace, answers with an
// X-Correlation-ID header, records [Metrics.HTTPRequestDuration] and logs
// the outcome. Probe and scrape paths log at debug level.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{metrics: m, prop: propagation.TraceContext{}}
	for _, o := range opts {
		o(mw)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mw.serve(next, w, r)
		})
	}
}

func (mw *middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path := r.URL.Path

	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.URLPath(path),
	}
	var itemID string
	if mw.currentItem != nil {
		if itemID = mw.currentItem(); itemID != "" {
			attrs = append(attrs, KeyItemID.String(itemID))
		}
	}

	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}

	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	next.ServeHTTP(rec, r.WithContext(ctx))
	elapsed := time.Since(start)

	span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))
	mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("path", path),
	))

	level := slog.LevelInfo
	if isProbe(path) {
		level = slog.LevelDebug
	}
	logAttrs := []slog.Attr{
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", path),
		slog.Int("status", rec.statusCode),
		slog.Duration("duration", elapsed),
	}
	if itemID != "" {
		logAttrs = append(logAttrs, slog.String("item", itemID))
	}
	slog.LogAttrs(ctx, level, "http request", logAttrs...)
}

func isProbe(path string) bool {
	switch strings.TrimSuffix(path, "/") {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}
