package intent

import (
	"errors"
	"testing"
	"time"
)

func validIntent() OrderIntent {
	price := 4000.0
	return OrderIntent{
		IntentID:   "intent-1",
		StrategyID: "strat-1",
		Instrument: "rb2501",
		Side:       SideBuy,
		Offset:     OffsetOpen,
		TargetQty:  100,
		Algo:       AlgoTWAP,
		LimitPrice: &price,
		SignalTS:   time.Unix(0, 0),
		ExpireTS:   time.Unix(100, 0),
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validIntent().Validate(); err != nil {
		t.Fatalf("expected valid intent, got %v", err)
	}
}

func TestValidateRejectsNonPositiveQty(t *testing.T) {
	oi := validIntent()
	oi.TargetQty = 0
	err := oi.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Code != "TARGET_QTY_INVALID" {
		t.Errorf("unexpected code: %s", verr.Code)
	}
}

func TestValidateRejectsUnknownAlgo(t *testing.T) {
	oi := validIntent()
	oi.Algo = "BOGUS"
	err := oi.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != "ALGO_UNKNOWN" {
		t.Fatalf("expected ALGO_UNKNOWN, got %v", err)
	}
}

func TestValidateRejectsIntentIDWithDelimiter(t *testing.T) {
	oi := validIntent()
	oi.IntentID = "bad#id"
	err := oi.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != "INTENT_ID_INVALID" {
		t.Fatalf("expected INTENT_ID_INVALID, got %v", err)
	}
}

func TestValidateRejectsExpiryBeforeSignal(t *testing.T) {
	oi := validIntent()
	oi.SignalTS = time.Unix(100, 0)
	oi.ExpireTS = time.Unix(1, 0)
	err := oi.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != "EXPIRY_BEFORE_SIGNAL" {
		t.Fatalf("expected EXPIRY_BEFORE_SIGNAL, got %v", err)
	}
}

func TestIsMarket(t *testing.T) {
	oi := validIntent()
	if oi.IsMarket() {
		t.Error("expected limit intent to not be market")
	}
	oi.LimitPrice = nil
	if !oi.IsMarket() {
		t.Error("expected nil limit price to be market")
	}
}

func TestPlanIDMatchesIntentID(t *testing.T) {
	oi := validIntent()
	if oi.PlanID() != oi.IntentID {
		t.Error("expected plan id to equal intent id")
	}
}
