package events

import (
	"math/big"
	"testing"
)

func TestTokenSupplyEvent(t *testing.T) {
	evt := TokenSupply{
		Token:  "test",
		Total:  big.NewInt(5000),
		Delta:  big.NewInt(-250),
		Reason: SupplyReasonReversal,
	}.Event()
	if evt == nil {
		t.Fatalf("expected event")
	}
	if evt.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["token"] != "TEST" {
		t.Fatalf("unexpected token attr: %s", evt.Attributes["token"])
	}
	if evt.Attributes["total"] != "5000" || evt.Attributes["delta"] != "-250" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["reason"] != SupplyReasonReversal {
		t.Fatalf("unexpected reason: %s", evt.Attributes["reason"])
	}
}

func TestFeedDeliversAndDrops(t *testing.T) {
	feed := NewFeed()
	ch, cancel := feed.Subscribe(1)
	defer cancel()

	feed.Emit(TokenSupply{Token: "TEST", Total: big.NewInt(1)})
	feed.Emit(TokenSupply{Token: "TEST", Total: big.NewInt(2)})

	got := <-ch
	if got.Attributes["total"] != "1" {
		t.Fatalf("unexpected first event: %+v", got.Attributes)
	}
	if feed.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", feed.Dropped())
	}
	if feed.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	if feed.Subscribers() != 0 {
		t.Fatalf("expected subscriber removal on cancel")
	}
}

func TestRecorderCounts(t *testing.T) {
	rec := &Recorder{}
	Multi{rec, NoopEmitter{}}.Emit(CurrencyTransfer{Amount: big.NewInt(3)})
	Multi{rec}.Emit(Payload{})
	if rec.Count(TypeCurrencyTransfer) != 1 {
		t.Fatalf("expected one currency transfer, got %d", rec.Count(TypeCurrencyTransfer))
	}
	if len(rec.Events()) != 2 {
		t.Fatalf("expected two events, got %d", len(rec.Events()))
	}
}
