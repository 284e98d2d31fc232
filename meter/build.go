package meter

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ineyio/callmeter"
	"github.com/ineyio/callmeter/meter/otelmeter"
	"github.com/ineyio/callmeter/meter/prommeter"
)

// Deps are the process-wide backends Build may attach sinks to.
// Nil fields fall back to each sink's default.
type Deps struct {
	Registerer    prometheus.Registerer
	MeterProvider metric.MeterProvider
	Logger        *zap.Logger
}

// Build assembles the sinks enabled in cfg. With no sink enabled it
// returns a NoopSink; with one it returns that sink directly.
func Build(cfg callmeter.Config, deps Deps) (callmeter.CallSink, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var sinks []callmeter.CallSink

	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(logger.Named("calls")))
	}

	if cfg.Prometheus.Enabled {
		opts := []prommeter.Option{
			prommeter.WithNamespace(cfg.Prometheus.Namespace),
			prommeter.WithLogger(logger),
		}
		if len(cfg.Prometheus.Buckets) > 0 {
			opts = append(opts, prommeter.WithBuckets(cfg.Prometheus.Buckets))
		}
		ps, err := prommeter.New(deps.Registerer, opts...)
		if err != nil {
			return nil, fmt.Errorf("callmeter: prometheus sink: %w", err)
		}
		sinks = append(sinks, ps)
	}

	if cfg.OTel.Enabled {
		opts := []otelmeter.Option{otelmeter.WithLogger(logger)}
		if cfg.OTel.MeterName != "" {
			opts = append(opts, otelmeter.WithMeterName(cfg.OTel.MeterName))
		}
		if len(cfg.OTel.Buckets) > 0 {
			opts = append(opts, otelmeter.WithBuckets(cfg.OTel.Buckets))
		}
		sinks = append(sinks, otelmeter.New(deps.MeterProvider, opts...))
	}

	switch len(sinks) {
	case 0:
		return NoopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return Multi(sinks...), nil
	}
}
