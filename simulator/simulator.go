// Package simulator runs arbitrage requests against a fork of the
// engine model before any transaction is signed. A request that cannot
// survive its own model is never worth a relay call.
package simulator

import (
	"context"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mevkit/flasharb/engine"
	"github.com/mevkit/flasharb/payload"
	"github.com/mevkit/flasharb/types"
)

// Result is the outcome of one preflight run.
type Result struct {
	Success  bool
	Profit   *big.Int
	Premium  *big.Int
	Status   engine.ExecStatus
	Err      error
	Provider types.ProviderID
}

// Simulator replays requests on engine forks.
type Simulator struct {
	eng    *engine.Engine
	logger *zap.Logger

	metrics struct {
		runs     prometheus.Counter
		failures prometheus.Counter
	}
}

// NewSimulator creates a preflight simulator over eng's current
// configuration. Later registrations on eng are picked up because each
// run forks fresh. Counters land on reg, which the process scrape
// endpoint exposes.
func NewSimulator(eng *engine.Engine, reg prometheus.Registerer, logger *zap.Logger) *Simulator {
	s := &Simulator{eng: eng, logger: logger}

	s.metrics.runs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_preflight_runs_total",
		Help: "Total number of preflight simulations",
	})
	s.metrics.failures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_preflight_failures_total",
		Help: "Preflight simulations that rejected the request",
	})
	reg.MustRegister(s.metrics.runs, s.metrics.failures)

	return s
}

// Preflight executes req on a fork of the engine. The fork is discarded
// either way; only the verdict survives. A failed preflight returns the
// Result with the failure recorded, not an error: errors are reserved
// for the simulator itself breaking.
func (s *Simulator) Preflight(ctx context.Context, req *types.ArbitrageRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.metrics.runs.Inc()

	data, err := payload.Encode(req)
	if err != nil {
		return nil, err
	}

	fork := s.eng.Fork()
	res, execErr := fork.ExecuteArbitrage(fork.Owner(), req.TokenIn, req.AmountIn, data)
	if execErr != nil {
		s.metrics.failures.Inc()
		s.logger.Debug("preflight rejected request",
			zap.String("provider", req.Provider.String()),
			zap.String("token", req.TokenIn.Hex()),
			zap.Error(execErr))

		out := &Result{Success: false, Err: execErr, Provider: req.Provider}
		if res != nil {
			out.Status = res.Status
		}
		return out, nil
	}

	return &Result{
		Success:  true,
		Profit:   res.Profit,
		Premium:  res.Premium,
		Status:   res.Status,
		Provider: req.Provider,
	}, nil
}
