package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/ictashik/OpenDataTagger"

// Outcome labels for inference and checkpoint counters.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// InitMetrics installs a global MeterProvider backed by a Prometheus exporter.
// It returns the /metrics handler and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Recorder holds the tagger's OpenTelemetry instruments. Instruments are
// created from the global MeterProvider, so call InitMetrics first to have
// them exported.
type Recorder struct {
	llmRequests metric.Int64Counter
	llmLatency  metric.Float64Histogram
	checkpoints metric.Int64Counter
	rows        metric.Int64Counter
}

// NewRecorder creates the instruments.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter(meterName)

	llmRequests, err := meter.Int64Counter("tagger.llm.requests",
		metric.WithDescription("Inference calls by outcome"))
	if err != nil {
		return nil, fmt.Errorf("llm requests counter: %w", err)
	}
	llmLatency, err := meter.Float64Histogram("tagger.llm.latency",
		metric.WithDescription("Inference call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("llm latency histogram: %w", err)
	}
	checkpoints, err := meter.Int64Counter("tagger.checkpoints",
		metric.WithDescription("Checkpoint flushes by outcome"))
	if err != nil {
		return nil, fmt.Errorf("checkpoints counter: %w", err)
	}
	rows, err := meter.Int64Counter("tagger.rows.processed",
		metric.WithDescription("Dataset rows annotated"))
	if err != nil {
		return nil, fmt.Errorf("rows counter: %w", err)
	}

	return &Recorder{
		llmRequests: llmRequests,
		llmLatency:  llmLatency,
		checkpoints: checkpoints,
		rows:        rows,
	}, nil
}

// LLMRequest records one inference call.
func (r *Recorder) LLMRequest(ctx context.Context, outcome string, latency time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.llmRequests.Add(ctx, 1, attrs)
	r.llmLatency.Record(ctx, latency.Seconds(), attrs)
}

// Checkpoint records one checkpoint flush.
func (r *Recorder) Checkpoint(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.checkpoints.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RowProcessed records one completed row.
func (r *Recorder) RowProcessed(ctx context.Context) {
	if r == nil {
		return
	}
	r.rows.Add(ctx, 1)
}

// RegisterJobGauge exports the number of jobs per status family, sampled at scrape time.
func RegisterJobGauge(count func() map[string]int64) error {
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableGauge("tagger.jobs",
		metric.WithDescription("Jobs in the registry by state"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			for state, n := range count() {
				obs.Observe(n, metric.WithAttributes(attribute.String("state", state)))
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("jobs gauge: %w", err)
	}
	return nil
}
