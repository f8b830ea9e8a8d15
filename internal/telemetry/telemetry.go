package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"time"

	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the telemetry instruments and providers. The zero value is a
// no-op, so every recording method can be called on a disabled instance.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter

	// RED metrics for the status API
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Mirror business metrics
	downloadsTotal     metric.Int64Counter
	downloadBytesTotal metric.Int64Counter
	verificationsTotal metric.Int64Counter
	passesTotal        metric.Int64Counter
	passDuration       metric.Float64Histogram

	// Journal metrics
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	// System health
	goroutineCount metric.Int64Gauge
	memoryUsage    metric.Int64Gauge
	systemErrors   metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Exporter selects the metrics pipeline: "prometheus" (pull, default) or
	// "otlp" (push over gRPC to OTLPEndpoint).
	Exporter     string
	OTLPEndpoint string
}

// New creates a telemetry instance. With cfg.Enabled false it returns a no-op
// instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	reader, err := newReader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

func newReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	if cfg.Exporter == "otlp" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		return sdkmetric.NewPeriodicReader(exporter), nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return exporter, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests against the status API")); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration")); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("In-flight HTTP requests")); err != nil {
		return err
	}

	if t.downloadsTotal, err = t.meter.Int64Counter("mirror_downloads_total",
		metric.WithDescription("Completed download attempts by status")); err != nil {
		return err
	}

	if t.downloadBytesTotal, err = t.meter.Int64Counter("mirror_download_bytes_total",
		metric.WithDescription("Bytes materialized on disk by successful downloads")); err != nil {
		return err
	}

	if t.verificationsTotal, err = t.meter.Int64Counter("mirror_verifications_total",
		metric.WithDescription("Checksum verifications by status")); err != nil {
		return err
	}

	if t.passesTotal, err = t.meter.Int64Counter("mirror_passes_total",
		metric.WithDescription("Completed mirror passes by status")); err != nil {
		return err
	}

	if t.passDuration, err = t.meter.Float64Histogram("mirror_pass_duration_seconds",
		metric.WithDescription("Mirror pass duration")); err != nil {
		return err
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter("db_operations_total",
		metric.WithDescription("Journal operations by status")); err != nil {
		return err
	}

	if t.dbOperationDuration, err = t.meter.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("Journal operation duration")); err != nil {
		return err
	}

	if t.goroutineCount, err = t.meter.Int64Gauge("system_goroutines",
		metric.WithDescription("Number of goroutines")); err != nil {
		return err
	}

	if t.memoryUsage, err = t.meter.Int64Gauge("system_memory_bytes",
		metric.WithDescription("Allocated heap bytes")); err != nil {
		return err
	}

	if t.systemErrors, err = t.meter.Int64Counter("system_errors_total",
		metric.WithDescription("Internal errors by component")); err != nil {
		return err
	}

	return nil
}

// RecordHTTPRequest records status API request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t != nil && t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t != nil && t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight status API requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight status API requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownload records one completed download attempt.
func (t *Telemetry) RecordDownload(status string) {
	if t != nil && t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// AddDownloadBytes accounts bytes materialized by successful downloads.
func (t *Telemetry) AddDownloadBytes(n int64) {
	if t != nil && t.downloadBytesTotal != nil && n > 0 {
		t.downloadBytesTotal.Add(context.Background(), n)
	}
}

// RecordVerification records one checksum verification outcome.
func (t *Telemetry) RecordVerification(status string) {
	if t != nil && t.verificationsTotal != nil {
		t.verificationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordPass records one completed mirror pass.
func (t *Telemetry) RecordPass(status string, duration time.Duration) {
	if t != nil && t.passesTotal != nil {
		t.passesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	if t != nil && t.passDuration != nil {
		t.passDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordSystemError records an internal error for a component.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t != nil && t.goroutineCount != nil {
				t.goroutineCount.Record(ctx, int64(runtime.NumGoroutine()))
			}

			if t != nil && t.memoryUsage != nil {
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				t.memoryUsage.Record(ctx, int64(m.HeapAlloc))
			}
		}
	}
}
