package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"tgeledger/core/types"
	telemetry "tgeledger/observability/otel"
	"tgeledger/storage"
)

func TestApplyRecordsLedgerInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := telemetry.NewInstruments(provider.Meter(telemetry.InstrumentationName))
	require.NoError(t, err)

	rt, err := NewRuntime(storage.NewMemDB(), WithInstruments(inst))
	require.NoError(t, err)
	require.NoError(t, rt.Fund(ownerAddr, ether(1)))
	_, err = rt.Deploy(context.Background(), ownerAddr, nil, beneficiaryAddr, authorityAddr)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = rt.Transition(ctx, ownerAddr)
	require.NoError(t, err)
	_, err = rt.Transition(ctx, buyerAddr)
	require.Error(t, err)
	_, err = rt.Apply(ctx, &types.Message{From: ownerAddr, Method: "mint"})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	seen := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "tgeledger.ledger.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				method, _ := dp.Attributes.Value(attribute.Key("method"))
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				seen[method.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	require.Equal(t, map[string]int64{
		"transition/ok":            1,
		"transition/unauthorized":  1,
		"unknown/invalid_argument": 1,
	}, seen)
}
