// Package risk implements the process-global risk supervisor: VaR/CVaR
// estimation, regime-driven method selection, backtesting, the circuit
// breaker state machine, and the pre-execution/signal confidence checker.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// VaRMethod selects which estimator Engine.Calculate uses.
type VaRMethod string

const (
	MethodParametric VaRMethod = "PARAMETRIC"
	MethodHistorical VaRMethod = "HISTORICAL"
	MethodMonteCarlo VaRMethod = "MONTE_CARLO"
)

// Regime classifies realized volatility into the four risk postures §4.5
// selects method, cadence and confidence from.
type Regime string

const (
	RegimeCalm     Regime = "CALM"
	RegimeNormal   Regime = "NORMAL"
	RegimeVolatile Regime = "VOLATILE"
	RegimeExtreme  Regime = "EXTREME"
)

// RegimePolicy is the (method, update cadence, confidence) tuple a regime
// selects.
type RegimePolicy struct {
	Method          VaRMethod
	UpdateInterval  time.Duration
	ConfidenceLevel float64
}

// ClassifyRegime maps annualized realized volatility to a Regime per §4.5.
func ClassifyRegime(annualizedVol float64) Regime {
	switch {
	case annualizedVol < 0.15:
		return RegimeCalm
	case annualizedVol < 0.25:
		return RegimeNormal
	case annualizedVol < 0.40:
		return RegimeVolatile
	default:
		return RegimeExtreme
	}
}

// RegimePolicyFor returns the fixed policy table from §4.5.
func RegimePolicyFor(r Regime) RegimePolicy {
	switch r {
	case RegimeCalm:
		return RegimePolicy{Method: MethodParametric, UpdateInterval: 5 * time.Second, ConfidenceLevel: 0.95}
	case RegimeNormal:
		return RegimePolicy{Method: MethodHistorical, UpdateInterval: 1 * time.Second, ConfidenceLevel: 0.99}
	case RegimeVolatile:
		return RegimePolicy{Method: MethodHistorical, UpdateInterval: 500 * time.Millisecond, ConfidenceLevel: 0.99}
	default:
		return RegimePolicy{Method: MethodMonteCarlo, UpdateInterval: 200 * time.Millisecond, ConfidenceLevel: 0.999}
	}
}

// VaRResult is the outcome of a VaR/CVaR calculation. Monetary figures use
// decimal.Decimal; the statistical core underneath operates on float64
// returns for numerical performance across Monte Carlo's ≥10,000 paths.
type VaRResult struct {
	Method            VaRMethod
	ConfidenceLevel   float64
	VaR               decimal.Decimal
	ExpectedShortfall decimal.Decimal
	PortfolioValue    decimal.Decimal
	Volatility        float64
	DataPoints        int
	CalculatedAt      time.Time
}

// PositionSnapshot is the market-data-feed-delivered position update §6
// describes: (instrument, net_qty, unrealized_pnl).
type PositionSnapshot struct {
	Instrument     string
	NetQty         int64
	UnrealizedPnL  decimal.Decimal
}

// MarketUpdate is the (instrument, mid_price, ts_ms) tick §6 describes.
type MarketUpdate struct {
	Instrument string
	MidPrice   decimal.Decimal
	TSMillis   int64
}

// AccountSnapshot is what the circuit breaker's trigger evaluation reads.
type AccountSnapshot struct {
	DailyLossPct          float64
	MaxSinglePositionLoss float64
	MarginUsagePct        float64
	ConsecutiveLosses     int
}
