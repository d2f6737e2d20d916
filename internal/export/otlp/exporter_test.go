package otlp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/mapbench/internal/model"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type fakeCollector struct {
	collectormetrics.UnimplementedMetricsServiceServer

	mu       sync.Mutex
	requests []*collectormetrics.ExportMetricsServiceRequest
}

func (c *fakeCollector) Export(_ context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return &collectormetrics.ExportMetricsServiceResponse{}, nil
}

func newTestExporter(t *testing.T) (*Exporter, *fakeCollector) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	collector := &fakeCollector{}
	collectormetrics.RegisterMetricsServiceServer(srv, collector)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	exp, err := New(Config{Endpoint: "passthrough:///bufnet", Insecure: true, Timeout: 5 * time.Second},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { exp.Close() })
	return exp, collector
}

func ptr(v float64) *float64 { return &v }

func testRows() []model.SummaryRow {
	meta := model.RunMetadata{RunID: "run-1", Approach: "dynamic-client", ZarrVersion: "v3", Dataset: "tiles-5MB", TargetChunkMB: 5}
	return []model.SummaryRow{
		{RunMetadata: meta, ZoomLevel: 0, DurationMs: 400, FPS: ptr(55), RequestDurationMs: 200, RequestPercent: ptr(50)},
		{RunMetadata: meta, ZoomLevel: 1, DurationMs: 0, RequestDurationMs: 0},
	}
}

func metricsByName(req *collectormetrics.ExportMetricsServiceRequest) map[string]*metricspb.Metric {
	out := map[string]*metricspb.Metric{}
	for _, rm := range req.GetResourceMetrics() {
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				out[m.GetName()] = m
			}
		}
	}
	return out
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	req := BuildRequest(nil, testRows(), now)
	metrics := metricsByName(req)

	tests := []struct {
		name   string
		points int
		first  float64
	}{
		{MetricFPS, 1, 55},
		{MetricActionDuration, 2, 400},
		{MetricRequestDuration, 2, 200},
		{MetricRequestPercent, 1, 50},
	}
	for _, tt := range tests {
		m, ok := metrics[tt.name]
		if !ok {
			t.Errorf("metric %s missing", tt.name)
			continue
		}
		points := m.GetGauge().GetDataPoints()
		if len(points) != tt.points {
			t.Errorf("%s has %d points, want %d", tt.name, len(points), tt.points)
			continue
		}
		if got := points[0].GetAsDouble(); got != tt.first {
			t.Errorf("%s first value = %v, want %v", tt.name, got, tt.first)
		}
		if got := points[0].GetTimeUnixNano(); got != uint64(now.UnixNano()) {
			t.Errorf("%s timestamp = %d", tt.name, got)
		}
	}

	attrs := map[string]bool{}
	for _, kv := range metrics[MetricActionDuration].GetGauge().GetDataPoints()[1].GetAttributes() {
		attrs[kv.GetKey()] = true
		if kv.GetKey() == "zoom" && kv.GetValue().GetIntValue() != 1 {
			t.Errorf("zoom attribute = %v, want 1", kv.GetValue())
		}
	}
	for _, key := range []string{"run.id", "dataset", "approach", "zoom"} {
		if !attrs[key] {
			t.Errorf("attribute %q missing", key)
		}
	}
}

func TestBuildRequestSkipsUndefinedOnly(t *testing.T) {
	t.Parallel()

	rows := testRows()[1:]
	metrics := metricsByName(BuildRequest(nil, rows, time.Now()))
	if _, ok := metrics[MetricFPS]; ok {
		t.Error("fps gauge emitted without defined values")
	}
	if _, ok := metrics[MetricRequestPercent]; ok {
		t.Error("request percent gauge emitted without defined values")
	}
	if _, ok := metrics[MetricActionDuration]; !ok {
		t.Error("action duration gauge missing")
	}
}

func TestExporterSendsToCollector(t *testing.T) {
	t.Parallel()

	exp, collector := newTestExporter(t)
	if err := exp.Export(context.Background(), testRows()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := exp.Export(context.Background(), nil); err != nil {
		t.Fatalf("Export(nil): %v", err)
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.requests) != 1 {
		t.Fatalf("collector received %d requests, want 1", len(collector.requests))
	}
	rm := collector.requests[0].GetResourceMetrics()[0]
	var service string
	for _, kv := range rm.GetResource().GetAttributes() {
		if kv.GetKey() == "service.name" {
			service = kv.GetValue().GetStringValue()
		}
	}
	if service != "mapbench" {
		t.Errorf("service.name = %q, want mapbench", service)
	}
	if n := len(metricsByName(collector.requests[0])); n != 4 {
		t.Errorf("got %d metrics, want 4", n)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for an empty endpoint")
	}
}
