package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger instruments exported over OTLP.
type Metrics struct {
	progressComputed    metric.Int64Counter
	allocations         metric.Int64Counter
	allocatedTons       metric.Float64Counter
	cancellations       metric.Int64Counter
	applicationsApplied metric.Float64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the ledger instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "pavetrack"
	}
	meter := provider.Meter(name)

	progressComputed, err := meter.Int64Counter("pavetrack_progress_computed_total")
	if err != nil {
		return nil, err
	}
	allocations, err := meter.Int64Counter("pavetrack_allocations_total")
	if err != nil {
		return nil, err
	}
	allocatedTons, err := meter.Float64Counter("pavetrack_allocated_tons_total", metric.WithUnit("t"))
	if err != nil {
		return nil, err
	}
	cancellations, err := meter.Int64Counter("pavetrack_cancellations_total")
	if err != nil {
		return nil, err
	}
	applicationsApplied, err := meter.Float64Counter("pavetrack_applied_tons_total", metric.WithUnit("t"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		progressComputed:    progressComputed,
		allocations:         allocations,
		allocatedTons:       allocatedTons,
		cancellations:       cancellations,
		applicationsApplied: applicationsApplied,
	}, nil
}

// RecordProgressComputed counts snapshot computations by caller.
func (m *Metrics) RecordProgressComputed(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.progressComputed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAllocation counts allocation attempts and, on success, the committed tons.
func (m *Metrics) RecordAllocation(ctx context.Context, result string, tons float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.allocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	if tons > 0 {
		m.allocatedTons.Add(ctx, tons)
	}
}

// RecordCancellation counts cancellation decisions.
func (m *Metrics) RecordCancellation(ctx context.Context, result, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("result", strings.TrimSpace(result)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordApplication adds tons applied in the field.
func (m *Metrics) RecordApplication(ctx context.Context, tons float64) {
	if m == nil || tons <= 0 {
		return
	}
	m.applicationsApplied.Add(ctx, tons)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":      {},
	"result":      {},
	"reason":      {},
	"status":      {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
