// Package otlp pushes run summaries to an OpenTelemetry collector as gauges.
package otlp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/tinytelemetry/mapbench/internal/model"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

// Metric names emitted per summary row.
const (
	MetricFPS             = "mapbench.fps"
	MetricActionDuration  = "mapbench.action.duration_ms"
	MetricRequestDuration = "mapbench.request.duration_ms"
	MetricRequestPercent  = "mapbench.request.percent"

	scopeName          = "github.com/tinytelemetry/mapbench"
	defaultServiceName = "mapbench"
	defaultTimeout     = 10 * time.Second
)

// Config holds exporter settings.
type Config struct {
	// Endpoint is a gRPC target such as "localhost:4317".
	Endpoint    string
	Insecure    bool
	Timeout     time.Duration
	ServiceName string
}

// Exporter sends summary rows over OTLP/gRPC.
type Exporter struct {
	conn     *grpc.ClientConn
	client   collectormetrics.MetricsServiceClient
	timeout  time.Duration
	resource *resourcepb.Resource
	now      func() time.Time
}

// New creates an exporter for cfg.Endpoint. The connection is established
// lazily on the first export.
func New(cfg Config, opts ...grpc.DialOption) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("otlp: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp: create client for %s: %w", cfg.Endpoint, err)
	}

	return &Exporter{
		conn:    conn,
		client:  collectormetrics.NewMetricsServiceClient(conn),
		timeout: cfg.Timeout,
		resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
			stringAttr("service.name", cfg.ServiceName),
		}},
		now: time.Now,
	}, nil
}

// Export sends one request carrying every row. Empty input is a no-op.
func (e *Exporter) Export(ctx context.Context, rows []model.SummaryRow) error {
	if len(rows) == 0 {
		return nil
	}
	req := BuildRequest(e.resource, rows, e.now())

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	resp, err := e.client.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("otlp: export: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedDataPoints() > 0 {
		log.Printf("otlp: collector rejected %d data points: %s", ps.GetRejectedDataPoints(), ps.GetErrorMessage())
	}
	return nil
}

// Close releases the connection.
func (e *Exporter) Close() error {
	return e.conn.Close()
}

// BuildRequest converts summary rows into gauges, one data point per row
// and metric. Undefined values produce no data point.
func BuildRequest(resource *resourcepb.Resource, rows []model.SummaryRow, now time.Time) *collectormetrics.ExportMetricsServiceRequest {
	ts := uint64(now.UnixNano())
	var fps, action, reqDur, reqPct []*metricspb.NumberDataPoint
	for _, row := range rows {
		attrs := rowAttributes(row)
		action = append(action, point(attrs, ts, row.DurationMs))
		reqDur = append(reqDur, point(attrs, ts, row.RequestDurationMs))
		if row.FPS != nil {
			fps = append(fps, point(attrs, ts, *row.FPS))
		}
		if row.RequestPercent != nil {
			reqPct = append(reqPct, point(attrs, ts, *row.RequestPercent))
		}
	}

	var metrics []*metricspb.Metric
	for _, g := range []struct {
		name, unit, desc string
		points           []*metricspb.NumberDataPoint
	}{
		{MetricFPS, "{frame}/s", "Frames per second during the action.", fps},
		{MetricActionDuration, "ms", "Time from action start to visual completion.", action},
		{MetricRequestDuration, "ms", "Span of the requests issued during the action.", reqDur},
		{MetricRequestPercent, "%", "Request span as a share of the action duration.", reqPct},
	} {
		if len(g.points) == 0 {
			continue
		}
		metrics = append(metrics, &metricspb.Metric{
			Name:        g.name,
			Unit:        g.unit,
			Description: g.desc,
			Data:        &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: g.points}},
		})
	}

	var res *resourcepb.Resource
	if resource != nil {
		res = proto.Clone(resource).(*resourcepb.Resource)
	}
	return &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: res,
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope:   &commonpb.InstrumentationScope{Name: scopeName},
				Metrics: metrics,
			}},
		}},
	}
}

func rowAttributes(row model.SummaryRow) []*commonpb.KeyValue {
	return []*commonpb.KeyValue{
		stringAttr("run.id", row.RunID),
		stringAttr("approach", row.Approach),
		stringAttr("zarr.version", row.ZarrVersion),
		stringAttr("dataset", row.Dataset),
		intAttr("target_chunk_mb", int64(row.TargetChunkMB)),
		intAttr("zoom", int64(row.ZoomLevel)),
		stringAttr("timed_out", strconv.FormatBool(row.TimedOut)),
	}
}

func point(attrs []*commonpb.KeyValue, ts uint64, v float64) *metricspb.NumberDataPoint {
	return &metricspb.NumberDataPoint{
		Attributes:   attrs,
		TimeUnixNano: ts,
		Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: v},
	}
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}}}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}}}
}
