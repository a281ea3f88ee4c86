package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName scopes every ledger span and instrument.
const InstrumentationName = "tgeledger"

// Tracer returns the ledger tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Instruments record applied ledger calls as OTLP metrics.
type Instruments struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	events   metric.Int64Counter
}

var (
	ledgerInstrumentsOnce sync.Once
	ledgerInstruments     *Instruments
)

// LedgerInstruments returns the process-wide instruments bound to the global
// meter provider. If the instruments cannot be created they fall back to
// no-ops.
func LedgerInstruments() *Instruments {
	ledgerInstrumentsOnce.Do(func() {
		inst, err := NewInstruments(otel.Meter(InstrumentationName))
		if err != nil {
			inst, _ = NewInstruments(noop.NewMeterProvider().Meter(InstrumentationName))
		}
		ledgerInstruments = inst
	})
	return ledgerInstruments
}

// NewInstruments creates the ledger instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	calls, err := meter.Int64Counter("tgeledger.ledger.calls",
		metric.WithDescription("Ledger calls applied, by method and error kind."),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("tgeledger.ledger.call.duration",
		metric.WithDescription("Time spent applying a ledger call."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	emitted, err := meter.Int64Counter("tgeledger.ledger.events",
		metric.WithDescription("Notifications flushed by committed calls."),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}
	return &Instruments{calls: calls, duration: duration, events: emitted}, nil
}

// RecordApply records one applied call. An empty kind means the call
// committed.
func (i *Instruments) RecordApply(ctx context.Context, method, kind string, events int, elapsed time.Duration) {
	if i == nil {
		return
	}
	outcome := "ok"
	if kind != "" {
		outcome = kind
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	)
	i.calls.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
	if events > 0 {
		i.events.Add(ctx, int64(events), metric.WithAttributes(attribute.String("method", method)))
	}
}
