package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/sewersim.v1.SimulationService/GetSnapshot"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SimulationService", "GetSnapshot", "OK")); got != 1 {
		t.Fatalf("sewersim_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "sewersim_rpc_request_duration_seconds", map[string]string{
		"service": "SimulationService",
		"method":  "GetSnapshot",
	}); count != 1 {
		t.Fatalf("sewersim_rpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/sewersim.v1.SimulationService/MoveSite"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SimulationService", "MoveSite", "NotFound")); got != 1 {
		t.Fatalf("error label = %v, want 1", got)
	}
}

func TestHTTPMiddlewareLabelsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	r := chi.NewRouter()
	r.Use(collector.HTTPMiddleware)
	r.Get("/snapshots/{hour}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/snapshots/7", nil))

	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("/snapshots/{hour}", "404")); got != 1 {
		t.Fatalf("sewersim_http_requests_total = %v, want 1", got)
	}
}

func TestCollectorsToleratesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("first NewSimCollector: %v", err)
	}
	b, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	a.HoursSimulated.Inc()
	if got := testutil.ToFloat64(b.HoursSimulated); got != 1 {
		t.Fatalf("second collector should share counters, got %v", got)
	}
}

func TestMetricsHandlerExposesAPIMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sewersim_rpc_requests_total",
		"sewersim_rpc_request_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"":                              {"unknown", "unknown"},
		"/sewersim.v1.Svc/Get":          {"Svc", "Get"},
		"bare":                          {"unknown", "unknown"},
		"/grpc.health.v1.Health/Check":  {"Health", "Check"},
	}
	for in, want := range cases {
		svc, m := SplitMethod(in)
		if svc != want[0] || m != want[1] {
			t.Errorf("SplitMethod(%q) = %s/%s, want %s/%s", in, svc, m, want[0], want[1])
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
