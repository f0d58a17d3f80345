package txstep

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fortressi/txstep"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

// counters are created lazily per transaction. A failed instrument is logged
// once and replaced by a no-op so execution never depends on telemetry.
type counters struct {
	once       sync.Once
	runs       metric.Int64Counter
	failures   metric.Int64Counter
	rollbacks  metric.Int64Counter
	undoFailed metric.Int64Counter
}

func (c *counters) init(m metric.Meter, logger *slog.Logger) {
	c.once.Do(func() {
		var initErrors []string
		mk := func(name, desc string) metric.Int64Counter {
			ctr, err := m.Int64Counter(name, metric.WithDescription(desc))
			if err != nil {
				initErrors = append(initErrors, name+": "+err.Error())
				return nil
			}
			return ctr
		}
		c.runs = mk("txstep_steps_run_total", "Number of forward actions invoked")
		c.failures = mk("txstep_steps_failed_total", "Number of forward actions that failed")
		c.rollbacks = mk("txstep_steps_rolled_back_total", "Number of steps compensated")
		c.undoFailed = mk("txstep_undo_failed_total", "Number of backward actions that failed")

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some txstep metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func add(ctx context.Context, ctr metric.Int64Counter, attrs ...attribute.KeyValue) {
	if ctr == nil {
		return
	}
	ctr.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func metricAttrs(name StepName) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("step.name", string(name))}
}
