package observe

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_SpanHeaderAndDuration(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	var inner string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if inner == "" || rec.Header().Get("X-Correlation-ID") != inner {
		t.Errorf("X-Correlation-ID = %q, handler saw %q", rec.Header().Get("X-Correlation-ID"), inner)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /items" {
		t.Fatalf("spans = %v", spans)
	}
	var code int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			code = a.Value.AsInt64()
		}
	}
	if code != http.StatusTeapot {
		t.Errorf("span status code = %d", code)
	}

	met := findMetric(collect(t, reader), "reciter.http.request.duration")
	if met == nil {
		t.Fatal("reciter.http.request.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("duration data = %+v", met.Data)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inner string
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if inner != traceID {
		t.Errorf("correlation id = %q, want %q", inner, traceID)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("probe logged at info: %s", buf.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items", nil))
	if !strings.Contains(buf.String(), "path=/items") {
		t.Errorf("request log missing: %s", buf.String())
	}
}

func TestMiddleware_CurrentItem(t *testing.T) {
	exp := useTestTracer(t)
	m, _ := newTestMetrics(t)

	current := "q7"
	h := Middleware(m, WithCurrentItem(func() string { return current }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	current = ""
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	itemOf := func(i int) string {
		for _, a := range spans[i].Attributes {
			if a.Key == KeyItemID {
				return a.Value.AsString()
			}
		}
		return ""
	}
	if got := itemOf(0); got != "q7" {
		t.Errorf("first span item = %q, want q7", got)
	}
	if got := itemOf(1); got != "" {
		t.Errorf("second span item = %q, want none", got)
	}
}
