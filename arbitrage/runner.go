// Package arbitrage drives one opportunity end to end: rank providers,
// preflight locally, sign, simulate on the relay, and broadcast to
// builders, failing over down the ranking until a bundle is accepted.
package arbitrage

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/mevkit/flasharb/engine"
	"github.com/mevkit/flasharb/flashbots"
	"github.com/mevkit/flasharb/flashloan"
	"github.com/mevkit/flasharb/payload"
	"github.com/mevkit/flasharb/simulator"
	"github.com/mevkit/flasharb/types"
)

// ErrAllProvidersFailed means every ranked provider was tried and none
// produced an accepted bundle.
var ErrAllProvidersFailed = errors.New("all ranked providers failed")

// Opportunity is one candidate trade the runner should attempt.
type Opportunity struct {
	Router1        common.Address
	Router2        common.Address
	TokenIn        common.Address
	TokenMid       common.Address
	AmountIn       *big.Int
	MinAmountMid   *big.Int
	MinAmountFinal *big.Int
	Urgency        types.Urgency

	// MinProfit, when set, rejects candidates whose preflighted profit
	// falls below it, in loan-token units.
	MinProfit *big.Int

	CurrentBlock uint64
	TargetBlock  uint64
	Nonce        uint64
}

// Outcome reports the attempt that finally succeeded.
type Outcome struct {
	Provider       types.ProviderID
	ExpectedProfit *big.Int
	Report         *flashbots.Report
	ProvidersTried int
	Elapsed        time.Duration
}

// GasConfig caps what the runner is willing to pay.
type GasConfig struct {
	GasLimit uint64
	MaxFee   *big.Int // per gas
	MaxTip   *big.Int // per gas
}

// Runner wires the selection, simulation, and submission stages.
type Runner struct {
	selector    *flashloan.Selector
	preflight   *simulator.Simulator
	relay       *flashbots.Client
	broadcaster *flashbots.Broadcaster

	executor common.Address
	signer   *ecdsa.PrivateKey
	chainID  *big.Int
	gas      GasConfig
	logger   *zap.Logger

	metrics struct {
		attempts    prometheus.Counter
		failovers   prometheus.Counter
		successes   prometheus.Counter
		successRate prometheus.Gauge
		stageErrors prometheus.CounterVec
	}
}

// NewRunner builds a runner. executor is the deployed contract address
// the signed transaction calls into. Counters land on reg, which the
// process scrape endpoint exposes.
func NewRunner(
	selector *flashloan.Selector,
	preflight *simulator.Simulator,
	relay *flashbots.Client,
	broadcaster *flashbots.Broadcaster,
	executor common.Address,
	signer *ecdsa.PrivateKey,
	chainID *big.Int,
	gas GasConfig,
	reg prometheus.Registerer,
	logger *zap.Logger,
) *Runner {
	r := &Runner{
		selector:    selector,
		preflight:   preflight,
		relay:       relay,
		broadcaster: broadcaster,
		executor:    executor,
		signer:      signer,
		chainID:     chainID,
		gas:         gas,
		logger:      logger,
	}

	r.metrics.attempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_runner_attempts_total",
		Help: "Total number of opportunity executions attempted",
	})
	r.metrics.failovers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_runner_failovers_total",
		Help: "Times the runner moved past a failed provider",
	})
	r.metrics.successes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_runner_successes_total",
		Help: "Opportunities that ended with an accepted bundle",
	})
	r.metrics.successRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_runner_success_rate",
		Help: "Fraction of attempts that ended with an accepted bundle",
	})
	r.metrics.stageErrors = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_runner_stage_errors_total",
		Help: "Per-provider failures by pipeline stage",
	}, []string{"stage"})
	reg.MustRegister(r.metrics.attempts, r.metrics.failovers, r.metrics.successes,
		r.metrics.successRate, &r.metrics.stageErrors)

	return r
}

// Execute tries opp against every ranked provider in order and returns
// on the first accepted bundle. Candidates that fail preflight or relay
// simulation cost nothing on-chain; the ranking is only exhausted when
// no provider can carry the trade.
func (r *Runner) Execute(ctx context.Context, opp *Opportunity) (*Outcome, error) {
	start := time.Now()
	r.metrics.attempts.Inc()

	ranked := r.selector.Rank(opp.TokenIn, opp.AmountIn, opp.Urgency)
	if len(ranked) == 0 {
		r.updateSuccessRate()
		return nil, fmt.Errorf("%w: no candidate supports %s for %s",
			ErrAllProvidersFailed, opp.TokenIn.Hex(), opp.AmountIn)
	}

	tried := 0
	for _, candidate := range ranked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tried++

		outcome, err := r.tryProvider(ctx, opp, candidate.Entry.ID)
		if err != nil {
			r.metrics.failovers.Inc()
			r.logger.Warn("provider attempt failed, failing over",
				zap.String("provider", candidate.Entry.ID.String()),
				zap.Float64("score", candidate.Score),
				zap.Error(err))
			continue
		}

		outcome.ProvidersTried = tried
		outcome.Elapsed = time.Since(start)
		r.metrics.successes.Inc()
		r.updateSuccessRate()
		r.logger.Info("opportunity executed",
			zap.String("provider", outcome.Provider.String()),
			zap.String("expected_profit", outcome.ExpectedProfit.String()),
			zap.Int("providers_tried", tried),
			zap.Int("builders_accepted", outcome.Report.Accepted))
		return outcome, nil
	}

	r.updateSuccessRate()
	return nil, fmt.Errorf("%w: %d tried", ErrAllProvidersFailed, tried)
}

// tryProvider runs the full pipeline for a single provider.
func (r *Runner) tryProvider(ctx context.Context, opp *Opportunity, provider types.ProviderID) (*Outcome, error) {
	req := &types.ArbitrageRequest{
		Router1:        opp.Router1,
		Router2:        opp.Router2,
		TokenIn:        opp.TokenIn,
		TokenMid:       opp.TokenMid,
		AmountIn:       opp.AmountIn,
		MinAmountMid:   opp.MinAmountMid,
		MinAmountFinal: opp.MinAmountFinal,
		Provider:       provider,
	}

	pre, err := r.preflight.Preflight(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	if !pre.Success {
		r.metrics.stageErrors.WithLabelValues("preflight").Inc()
		return nil, fmt.Errorf("preflight rejected: %w", pre.Err)
	}
	if opp.MinProfit != nil && pre.Profit.Cmp(opp.MinProfit) < 0 {
		r.metrics.stageErrors.WithLabelValues("preflight").Inc()
		return nil, fmt.Errorf("expected profit %s below floor %s", pre.Profit, opp.MinProfit)
	}

	bundle, err := r.buildBundle(req, opp)
	if err != nil {
		r.metrics.stageErrors.WithLabelValues("build").Inc()
		return nil, fmt.Errorf("bundle build: %w", err)
	}

	// Relay simulation gates broadcast: a bundle the relay cannot
	// execute is never sent to builders.
	if _, err := r.relay.SimulateBundle(ctx, bundle); err != nil {
		r.metrics.stageErrors.WithLabelValues("simulate").Inc()
		return nil, fmt.Errorf("relay simulation: %w", err)
	}

	report, err := r.broadcaster.Broadcast(ctx, bundle, opp.CurrentBlock)
	if err != nil {
		r.metrics.stageErrors.WithLabelValues("broadcast").Inc()
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	if report.Accepted == 0 {
		r.metrics.stageErrors.WithLabelValues("broadcast").Inc()
		return nil, fmt.Errorf("no builder accepted the bundle")
	}

	return &Outcome{
		Provider:       provider,
		ExpectedProfit: pre.Profit,
		Report:         report,
	}, nil
}

// buildBundle signs the executeArbitrage call as a single-tx bundle.
func (r *Runner) buildBundle(req *types.ArbitrageRequest, opp *Opportunity) (*flashbots.Bundle, error) {
	data, err := payload.Encode(req)
	if err != nil {
		return nil, err
	}
	calldata, err := engine.PackExecuteArbitrage(req.TokenIn, req.AmountIn, data)
	if err != nil {
		return nil, err
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   r.chainID,
		Nonce:     opp.Nonce,
		GasTipCap: r.gas.MaxTip,
		GasFeeCap: r.gas.MaxFee,
		Gas:       r.gas.GasLimit,
		To:        &r.executor,
		Data:      calldata,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(r.chainID), r.signer)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return &flashbots.Bundle{
		Txs: []flashbots.BundleTx{{
			Raw:  hexutil.Encode(raw),
			Hash: signed.Hash(),
		}},
		TargetBlock: opp.TargetBlock,
	}, nil
}

// updateSuccessRate recomputes the gauge from the counters' own values.
func (r *Runner) updateSuccessRate() {
	var successes, attempts float64

	m := &dto.Metric{}
	if err := r.metrics.successes.Write(m); err == nil && m.Counter != nil {
		successes = *m.Counter.Value
	}
	m = &dto.Metric{}
	if err := r.metrics.attempts.Write(m); err == nil && m.Counter != nil {
		attempts = *m.Counter.Value
	}

	if attempts > 0 {
		r.metrics.successRate.Set(successes / attempts)
	}
}
