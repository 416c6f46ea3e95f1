// Command engine wires the execution core (TWAP/VWAP/Iceberg), the risk
// supervisor and the audit ledger into a runnable process; it constructs no
// gateway driver. It is intentionally small: production deployments compose the
// same packages behind their own order-entry and market-data transports.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/epic1st/execalgo/audit"
	"github.com/epic1st/execalgo/authz"
	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/config"
	"github.com/epic1st/execalgo/execution"
	"github.com/epic1st/execalgo/gateway"
	"github.com/epic1st/execalgo/logging"
	"github.com/epic1st/execalgo/metrics"
	"github.com/epic1st/execalgo/risk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("engine: loading config: %v", err)
	}

	logger := logging.NewLogger(logging.INFO, os.Stdout)
	logger.Info("engine starting", logging.Component("engine"), logging.String("environment", cfg.Environment))

	realClock := clock.Real{}

	fileSink, err := audit.NewFileSink(cfg.Audit.LogDir, cfg.Audit.RotateThreshold, cfg.Audit.FlushInterval)
	if err != nil {
		log.Fatalf("engine: opening audit file sink: %v", err)
	}
	defer fileSink.Close()

	ledger := audit.NewLedger(realClock, "", "", fileSink)
	defer ledger.Close()

	twapExecutor := execution.NewTWAPExecutor(realClock, ledger, execution.TWAPConfig{
		MaxSliceQty:     cfg.TWAP.MaxSliceQty,
		MinSliceQty:     cfg.TWAP.MinSliceQty,
		TimeoutSeconds:  cfg.TWAP.TimeoutSeconds,
		RetryCount:      cfg.TWAP.RetryCount,
		DurationSeconds: cfg.TWAP.DurationSeconds,
		SliceCount:      cfg.TWAP.SliceCount,
	})

	volumeProfile, err := config.LoadVolumeProfile(cfg.VWAP.VolumeProfilePath)
	if err != nil {
		logger.Warn("falling back to the default volume profile", logging.String("error", err.Error()))
	}
	vwapExecutor := execution.NewVWAPExecutor(realClock, ledger, execution.VWAPConfig{
		MaxSliceQty:      cfg.VWAP.MaxSliceQty,
		MinSliceQty:      cfg.VWAP.MinSliceQty,
		TimeoutSeconds:   cfg.VWAP.TimeoutSeconds,
		RetryCount:       cfg.VWAP.RetryCount,
		DurationSeconds:  cfg.VWAP.DurationSeconds,
		VolumeProfile:    volumeProfile,
		MinSliceQtyRatio: cfg.VWAP.MinSliceQtyRatio,
	})

	icebergExecutor := execution.NewIcebergExecutor(realClock, ledger, execution.IcebergConfig{
		MaxSliceQty:      cfg.Iceberg.MaxSliceQty,
		MinSliceQty:      cfg.Iceberg.MinSliceQty,
		TimeoutSeconds:   cfg.Iceberg.TimeoutSeconds,
		RetryCount:       cfg.Iceberg.RetryCount,
		DisplayQtyRatio:  cfg.Iceberg.DisplayQtyRatio,
		RefreshOnPartial: cfg.Iceberg.RefreshOnPartial,
		MinRefreshQty:    cfg.Iceberg.MinRefreshQty,
	})

	varEngine := risk.NewEngine(risk.VaRConfig{
		ConfidenceLevel: cfg.Risk.DefaultConfidenceLevel,
		MonteCarloSims:  cfg.Risk.MonteCarloSims,
	})

	issuer := authz.NewTokenIssuer(cfg.JWT.Secret, 24*time.Hour)
	breaker := risk.NewCircuitBreaker(risk.TriggerLimits{
		DailyLossPctLimit:      cfg.Risk.DailyLossPctLimit,
		PositionLossPctLimit:   cfg.Risk.PositionLossPctLimit,
		MarginUsagePctLimit:    cfg.Risk.MarginUsagePctLimit,
		ConsecutiveLossesLimit: cfg.Risk.ConsecutiveLossesLimit,
	}, authz.NewOverrideAuthenticator(issuer), time.Now)

	executors := map[string]gateway.Executor{
		"TWAP":    twapExecutor,
		"VWAP":    vwapExecutor,
		"ICEBERG": icebergExecutor,
	}

	go runBreakerMonitor(breaker, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/algos", handleListAlgos(executors))
	mux.HandleFunc("/api/risk/var", handleVaR(varEngine))
	addr := ":" + cfg.Port
	logger.Info("engine listening", logging.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("engine: http server: %v", err)
	}
}

// handleListAlgos reports which execution algorithms this process has wired,
// for operator tooling and health checks.
func handleListAlgos(executors map[string]gateway.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(executors))
		for name := range executors {
			names = append(names, name)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"algos": names})
	}
}

// varRequest is the body accepted by /api/risk/var.
type varRequest struct {
	Method         string    `json:"method"`
	Returns        []float64 `json:"returns"`
	PortfolioValue float64   `json:"portfolio_value"`
}

// handleVaR computes a VaR/CVaR estimate over a caller-supplied returns
// series, recording compute duration into metrics.
func handleVaR(engine *risk.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req varRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		start := time.Now()
		result, err := engine.Calculate(risk.VaRMethod(req.Method), req.Returns, decimal.NewFromFloat(req.PortfolioValue))
		metrics.RecordVaRCompute(req.Method, time.Since(start))
		if err != nil {
			logging.TrackError(r.Context(), err, "medium", map[string]interface{}{"method": req.Method})
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// runBreakerMonitor reads the circuit breaker's current snapshot once a
// second, publishes it to metrics and logs a warning while the state is
// TRIGGERED. It does not call Evaluate; this process feeds no account
// snapshots to the breaker.
func runBreakerMonitor(breaker *risk.CircuitBreaker, logger *logging.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		snapshot := breaker.GetSnapshot()
		metrics.SetBreakerState(string(snapshot.State), snapshot.TriggerReason, snapshot.Capacity)
		if snapshot.State == risk.BreakerTriggered {
			logger.Warn("circuit breaker triggered", logging.String("reason", snapshot.TriggerReason))
		}
	}
}
