package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tgeledger/core/events"
)

func TestLedgerMetricsRecordCall(t *testing.T) {
	m := Ledger()
	before := testutil.ToFloat64(m.CallsVec().WithLabelValues("withdraw", "error", "unauthorized"))
	m.RecordCall("withdraw", "unauthorized", time.Millisecond)
	after := testutil.ToFloat64(m.CallsVec().WithLabelValues("withdraw", "error", "unauthorized"))
	if after-before != 1 {
		t.Fatalf("expected one recorded failure, got %v", after-before)
	}

	m.SetBalance("custody", big.NewInt(42))
	if got := testutil.ToFloat64(m.BalanceVec().WithLabelValues("custody")); got != 42 {
		t.Fatalf("unexpected custody gauge %v", got)
	}
	m.SetPhase(2)
	if got := testutil.ToFloat64(m.PhaseGauge()); got != 2 {
		t.Fatalf("unexpected phase gauge %v", got)
	}
}

func TestEventMetricsCountsTypes(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.EmittedVec().WithLabelValues(events.TypeCurrencyTransfer))
	m.Emit(events.CurrencyTransfer{Asset: "eth", Amount: big.NewInt(1)})
	after := testutil.ToFloat64(m.EmittedVec().WithLabelValues(events.TypeCurrencyTransfer))
	if after-before != 1 {
		t.Fatalf("expected one counted event, got %v", after-before)
	}
}
