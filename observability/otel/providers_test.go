package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestStartRequiresServiceName(t *testing.T) {
	_, err := Start(context.Background(), Config{})
	require.Error(t, err)
}

func TestStartRejectsBadSampleRatio(t *testing.T) {
	_, err := Start(context.Background(), Config{ServiceName: "saled", SampleRatio: 1.5})
	require.Error(t, err)
}

func TestStartWithoutSignalsInstallsNothing(t *testing.T) {
	providers, err := Start(context.Background(), Config{ServiceName: "saled"})
	require.NoError(t, err)
	require.Nil(t, providers.traces)
	require.Nil(t, providers.metrics)
	require.NoError(t, providers.Shutdown(context.Background()))
	require.NotNil(t, Tracer())

	var none *Providers
	require.NoError(t, none.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	require.Contains(t, sampler(0).Description(), "AlwaysOn")
	require.Contains(t, sampler(1).Description(), "AlwaysOn")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer x, ,broken,=empty,tenant = ledger")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "ledger"}, headers)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestInstrumentsRecordApply(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := NewInstruments(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordApply(ctx, "purchase", "", 3, 5*time.Millisecond)
	inst.RecordApply(ctx, "withdraw", "unauthorized", 0, time.Millisecond)

	metrics := collect(t, reader)
	calls, ok := metrics["tgeledger.ledger.calls"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, calls.DataPoints, 2)
	for _, dp := range calls.DataPoints {
		method, _ := dp.Attributes.Value(attribute.Key("method"))
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		switch method.AsString() {
		case "purchase":
			require.Equal(t, "ok", outcome.AsString())
		case "withdraw":
			require.Equal(t, "unauthorized", outcome.AsString())
		default:
			t.Fatalf("unexpected method %q", method.AsString())
		}
		require.EqualValues(t, 1, dp.Value)
	}

	emitted, ok := metrics["tgeledger.ledger.events"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, emitted.DataPoints, 1)
	require.EqualValues(t, 3, emitted.DataPoints[0].Value)

	_, ok = metrics["tgeledger.ledger.call.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)

	var nilInst *Instruments
	nilInst.RecordApply(ctx, "purchase", "", 1, time.Millisecond)
	require.NotNil(t, LedgerInstruments())
}
