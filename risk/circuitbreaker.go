package risk

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is the circuit breaker's lifecycle state (§4.5).
type BreakerState string

const (
	BreakerNormal         BreakerState = "NORMAL"
	BreakerTriggered      BreakerState = "TRIGGERED"
	BreakerCooling        BreakerState = "COOLING"
	BreakerRecovery       BreakerState = "RECOVERY"
	BreakerManualOverride BreakerState = "MANUAL_OVERRIDE"
)

// recoveryStages is the fixed 25/50/75/100% capacity schedule with stage
// durations 30/60/120/∞ minutes (§4.5).
var recoveryStages = []struct {
	Capacity float64
	Duration time.Duration
}{
	{0.25, 30 * time.Minute},
	{0.50, 60 * time.Minute},
	{0.75, 120 * time.Minute},
	{1.00, 0}, // ∞: holds until a new trigger or manual transition
}

const coolingDuration = 15 * time.Minute

// TriggerLimits is the configurable trigger-condition threshold set (§6
// Risk config: daily_loss_pct_limit, position_loss_pct_limit,
// margin_usage_pct_limit, consecutive_losses_limit).
type TriggerLimits struct {
	DailyLossPctLimit      float64
	PositionLossPctLimit   float64
	MarginUsagePctLimit    float64
	ConsecutiveLossesLimit int
}

// DefaultTriggerLimits returns the §6 default values.
func DefaultTriggerLimits() TriggerLimits {
	return TriggerLimits{
		DailyLossPctLimit:      0.03,
		PositionLossPctLimit:   0.05,
		MarginUsagePctLimit:    0.85,
		ConsecutiveLossesLimit: 5,
	}
}

// Snapshot is the atomic, lock-free read view of the breaker's current
// state, used by drivers deciding whether to dispatch PLACE_ORDER (§5: "state
// reads are lock-free via an atomic snapshot").
type Snapshot struct {
	State            BreakerState
	Capacity         float64
	RecoveryStage    int
	TriggerReason    string
	TransitionTSMs   int64
}

// Authenticator verifies operator credentials for entering/leaving
// MANUAL_OVERRIDE. A real deployment wires this to the authz package's JWT
// verification; tests may use a trivial always-true/false stub.
type Authenticator interface {
	Authenticate(token string) bool
}

// CircuitBreaker is the process-global order-dispatch gate. All transitions
// are serialized under mu; GetSnapshot is lock-free via an atomic.Value so
// hot-path driver reads never contend with a transition in flight.
type CircuitBreaker struct {
	mu            sync.Mutex
	snapshot      atomic.Value // holds Snapshot
	limits        TriggerLimits
	auth          Authenticator
	stageEnteredAt time.Time
	clockNow      func() time.Time
}

// NewCircuitBreaker creates a breaker starting in NORMAL at full capacity.
func NewCircuitBreaker(limits TriggerLimits, auth Authenticator, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	cb := &CircuitBreaker{limits: limits, auth: auth, clockNow: now}
	cb.store(Snapshot{State: BreakerNormal, Capacity: 1.0, TransitionTSMs: now().UnixMilli()})
	return cb
}

func (cb *CircuitBreaker) store(s Snapshot) {
	cb.snapshot.Store(s)
}

// GetSnapshot returns the current state without taking the transition lock.
func (cb *CircuitBreaker) GetSnapshot() Snapshot {
	return cb.snapshot.Load().(Snapshot)
}

// triggeredReason reports which trigger condition, if any, fires for acct (§4.5:
// "any fires").
func triggeredReason(acct AccountSnapshot, limits TriggerLimits) string {
	switch {
	case acct.DailyLossPct > limits.DailyLossPctLimit:
		return "daily_loss_pct_exceeded"
	case acct.MaxSinglePositionLoss > limits.PositionLossPctLimit:
		return "position_loss_pct_exceeded"
	case acct.MarginUsagePct > limits.MarginUsagePctLimit:
		return "margin_usage_pct_exceeded"
	case acct.ConsecutiveLosses >= limits.ConsecutiveLossesLimit:
		return "consecutive_losses_exceeded"
	default:
		return ""
	}
}

// Evaluate checks acct against the trigger conditions and transitions the
// breaker if needed. It is the single entry point drivers call on every
// account snapshot update; it is safe to call from multiple goroutines.
//
// Target latency (§4.5, testable property 9): trigger-to-state-change
// within the call itself is O(1) arithmetic with no I/O, comfortably inside
// the 50ms bound; RECOVERY stage advancement (state-to-state) is likewise
// pure arithmetic, inside the 10ms bound.
func (cb *CircuitBreaker) Evaluate(acct AccountSnapshot) Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clockNow()
	current := cb.GetSnapshot()

	if current.State == BreakerManualOverride {
		return current // only authenticated ExitManualOverride leaves this state
	}

	if reason := triggeredReason(acct, cb.limits); reason != "" {
		return cb.transitionToTriggered(reason, now)
	}

	switch current.State {
	case BreakerTriggered:
		if now.Sub(cb.stageEnteredAt) >= 0 {
			return cb.transitionToCooling(now)
		}
	case BreakerCooling:
		if now.Sub(cb.stageEnteredAt) >= coolingDuration {
			return cb.transitionToRecovery(0, now)
		}
	case BreakerRecovery:
		return cb.advanceRecovery(now)
	}
	return cb.GetSnapshot()
}

func (cb *CircuitBreaker) transitionToTriggered(reason string, now time.Time) Snapshot {
	cb.stageEnteredAt = now
	s := Snapshot{State: BreakerTriggered, Capacity: 0.0, TriggerReason: reason, TransitionTSMs: now.UnixMilli()}
	cb.store(s)
	return s
}

func (cb *CircuitBreaker) transitionToCooling(now time.Time) Snapshot {
	cb.stageEnteredAt = now
	s := Snapshot{State: BreakerCooling, Capacity: 0.0, TransitionTSMs: now.UnixMilli()}
	cb.store(s)
	return s
}

func (cb *CircuitBreaker) transitionToRecovery(stage int, now time.Time) Snapshot {
	cb.stageEnteredAt = now
	s := Snapshot{
		State:          BreakerRecovery,
		Capacity:       recoveryStages[stage].Capacity,
		RecoveryStage:  stage,
		TransitionTSMs: now.UnixMilli(),
	}
	cb.store(s)
	return s
}

// advanceRecovery moves to the next recovery stage once the current stage's
// duration has elapsed without a new trigger; the final stage (100%) has no
// duration and simply holds until Reset or a new trigger.
func (cb *CircuitBreaker) advanceRecovery(now time.Time) Snapshot {
	current := cb.GetSnapshot()
	stage := current.RecoveryStage
	duration := recoveryStages[stage].Duration
	if duration == 0 {
		return current
	}
	if now.Sub(cb.stageEnteredAt) < duration {
		return current
	}
	next := stage + 1
	if next >= len(recoveryStages) {
		next = len(recoveryStages) - 1
	}
	return cb.transitionToRecovery(next, now)
}

// Reset forces a transition into RECOVERY stage 0 from any state except
// MANUAL_OVERRIDE, which it leaves unchanged. Exposed for drivers/tests that
// want to skip waiting out the cooling timer; normal operation reaches
// RECOVERY via Evaluate alone.
func (cb *CircuitBreaker) Reset() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if current := cb.GetSnapshot(); current.State == BreakerManualOverride {
		return current // only authenticated ExitManualOverride leaves this state
	}
	return cb.transitionToRecovery(0, cb.clockNow())
}

// EnterManualOverride requires authentication and forces the breaker into
// MANUAL_OVERRIDE at the given capacity, regardless of current state.
func (cb *CircuitBreaker) EnterManualOverride(token string, capacity float64) bool {
	if cb.auth == nil || !cb.auth.Authenticate(token) {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.clockNow()
	cb.stageEnteredAt = now
	cb.store(Snapshot{State: BreakerManualOverride, Capacity: capacity, TransitionTSMs: now.UnixMilli()})
	return true
}

// ExitManualOverride requires authentication and returns the breaker to
// NORMAL at full capacity.
func (cb *CircuitBreaker) ExitManualOverride(token string) bool {
	if cb.auth == nil || !cb.auth.Authenticate(token) {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.clockNow()
	cb.stageEnteredAt = now
	cb.store(Snapshot{State: BreakerNormal, Capacity: 1.0, TransitionTSMs: now.UnixMilli()})
	return true
}

// AllowedQty computes the effective allowed new-open quantity for a base
// limit under the breaker's current capacity (§4.5 Recovery arithmetic).
func (cb *CircuitBreaker) AllowedQty(baseLimit int64) int64 {
	capacity := cb.GetSnapshot().Capacity
	return int64(float64(baseLimit) * capacity)
}
