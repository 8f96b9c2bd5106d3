package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "vclip/server"

// InitMetrics wires an OpenTelemetry meter provider to a Prometheus registry.
// It returns the provider's meter, the /metrics handler and a shutdown func.
func InitMetrics() (metric.Meter, http.Handler, func(context.Context) error, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return provider.Meter(meterName), handler, provider.Shutdown, nil
}

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	meter          metric.Meter
	jobsSubmitted  metric.Int64Counter
	jobsCompleted  metric.Int64Counter
	jobsFailed     metric.Int64Counter
	clipsRendered  metric.Int64Counter
	renderFailures metric.Int64Counter
	stageDuration  metric.Float64Histogram
}

// NewMetrics registers the instruments on meter; a nil meter records into a no-op provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}
	m := &Metrics{meter: meter}
	var err error
	if m.jobsSubmitted, err = meter.Int64Counter("vclip_jobs_submitted", metric.WithDescription("Jobs accepted for processing")); err != nil {
		return nil, err
	}
	if m.jobsCompleted, err = meter.Int64Counter("vclip_jobs_completed", metric.WithDescription("Jobs that reached completed")); err != nil {
		return nil, err
	}
	if m.jobsFailed, err = meter.Int64Counter("vclip_jobs_failed", metric.WithDescription("Jobs that failed, by stage")); err != nil {
		return nil, err
	}
	if m.clipsRendered, err = meter.Int64Counter("vclip_clips_rendered", metric.WithDescription("Clips rendered successfully")); err != nil {
		return nil, err
	}
	if m.renderFailures, err = meter.Int64Counter("vclip_clip_render_failures", metric.WithDescription("Clips skipped after a render error")); err != nil {
		return nil, err
	}
	if m.stageDuration, err = meter.Float64Histogram("vclip_stage_duration",
		metric.WithDescription("Wall time spent per pipeline stage"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveJobStatus exports a gauge of job counts keyed by status, read from
// count at scrape time.
func (m *Metrics) ObserveJobStatus(count func() map[string]int) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge("vclip_jobs",
		metric.WithDescription("Jobs currently held, by status"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for status, n := range count() {
				o.Observe(int64(n), metric.WithAttributes(attribute.String("status", status)))
			}
			return nil
		}),
	)
	return err
}

func (m *Metrics) JobSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.jobsSubmitted.Add(ctx, 1)
}

func (m *Metrics) JobCompleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.jobsCompleted.Add(ctx, 1)
}

func (m *Metrics) JobFailed(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) ClipRendered(ctx context.Context) {
	if m == nil {
		return
	}
	m.clipsRendered.Add(ctx, 1)
}

func (m *Metrics) ClipRenderFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.renderFailures.Add(ctx, 1)
}

func (m *Metrics) ObserveStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
