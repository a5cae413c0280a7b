package arbitrage

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mevkit/flasharb/engine"
	"github.com/mevkit/flasharb/flashbots"
	"github.com/mevkit/flasharb/flashloan"
	"github.com/mevkit/flasharb/simulator"
	"github.com/mevkit/flasharb/types"
)

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	executorAddr = common.HexToAddress("0x00000000000000000000000000000000000000EE")

	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	aavePool = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")
	vault    = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	router1  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	router2  = common.HexToAddress("0x0000000000000000000000000000000000001002")
)

// relayHandler answers both eth_callBundle and eth_sendBundle, counting
// each.
func relayHandler(simOK bool, simHits, sendHits *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "eth_callBundle":
			simHits.Add(1)
			if !simOK {
				_, _ = w.Write([]byte(`{"result":{"results":[{"txHash":"0x0","error":"execution reverted"}]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":{"results":[{"txHash":"0x0","gasUsed":300000}],"totalGasUsed":300000}}`))
		case "eth_sendBundle":
			sendHits.Add(1)
			_, _ = w.Write([]byte(`{"result":{"bundleHash":"0xabc"}}`))
		default:
			_, _ = w.Write([]byte(`{"result":{}}`))
		}
	}
}

type fixture struct {
	runner   *Runner
	reg      *prometheus.Registry
	simHits  atomic.Int64
	sendHits atomic.Int64
}

// newFixture wires the full pipeline over an in-memory model. Balancer
// outranks Aave on fees; fundVault controls whether it can actually
// lend.
func newFixture(t *testing.T, fundVault, fundAave, relaySimOK bool) *fixture {
	t.Helper()
	f := &fixture{}
	logger := zaptest.NewLogger(t)

	st := engine.NewChainState()
	st.Mint(usdc, router1, big.NewInt(100_000_000))
	st.Mint(weth, router1, big.NewInt(100_000_000))
	st.Mint(weth, router2, big.NewInt(100_000_000))
	st.Mint(usdc, router2, big.NewInt(200_000_000))
	if fundVault {
		st.Mint(usdc, vault, big.NewInt(10_000_000))
	}
	if fundAave {
		st.Mint(usdc, aavePool, big.NewInt(10_000_000))
	}

	reg := prometheus.NewRegistry()
	f.reg = reg
	eng := engine.NewEngine(executorAddr, ownerAddr, st, reg, logger)
	eng.RegisterRouter(engine.NewPairRouter(router1, usdc, weth))
	eng.RegisterRouter(engine.NewPairRouter(router2, weth, usdc))
	eng.RegisterLender(engine.NewBalancerVault(vault))
	eng.RegisterLender(engine.NewAaveV3Pool(aavePool, 9))

	assets := map[common.Address]bool{usdc: true}
	registry, err := flashloan.NewRegistry([]*flashloan.Entry{
		{
			Name: "BALANCER_V2", ID: types.ProviderBalancer, Pool: vault,
			FeeBps: 0, MaxLiquidity: big.NewInt(50_000_000), MinAmount: big.NewInt(1),
			Reliability: 0.99, AvgLatencyMs: 100,
			SupportedAssets: assets, Executable: true,
		},
		{
			Name: "AAVE_V3", ID: types.ProviderAaveV3, Pool: aavePool,
			FeeBps: 9, MaxLiquidity: big.NewInt(50_000_000), MinAmount: big.NewInt(1),
			Reliability: 0.99, AvgLatencyMs: 100,
			SupportedAssets: assets, Executable: true,
		},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(relayHandler(relaySimOK, &f.simHits, &f.sendHits))
	t.Cleanup(srv.Close)

	authKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	relay := flashbots.NewClient(srv.URL, authKey, 1000, logger)
	broadcaster, err := flashbots.NewBroadcaster([]*flashbots.Client{
		flashbots.NewClient(srv.URL, authKey, 1000, logger),
	}, reg, logger)
	require.NoError(t, err)

	f.runner = NewRunner(
		flashloan.NewSelector(registry, reg, logger),
		simulator.NewSimulator(eng, reg, logger),
		relay,
		broadcaster,
		executorAddr,
		signerKey,
		big.NewInt(1),
		GasConfig{GasLimit: 800_000, MaxFee: big.NewInt(50_000_000_000), MaxTip: big.NewInt(2_000_000_000)},
		reg,
		logger,
	)
	return f
}

func opportunity() *Opportunity {
	return &Opportunity{
		Router1:        router1,
		Router2:        router2,
		TokenIn:        usdc,
		TokenMid:       weth,
		AmountIn:       big.NewInt(1_000_000),
		MinAmountMid:   big.NewInt(1),
		MinAmountFinal: big.NewInt(1),
		Urgency:        types.UrgencyNormal,
		CurrentBlock:   99,
		TargetBlock:    100,
		Nonce:          7,
	}
}

func TestExecutePrefersTopRankedProvider(t *testing.T) {
	f := newFixture(t, true, true, true)

	outcome, err := f.runner.Execute(context.Background(), opportunity())
	require.NoError(t, err)

	assert.Equal(t, types.ProviderBalancer, outcome.Provider, "zero-fee provider ranks first")
	assert.Equal(t, 1, outcome.ProvidersTried)
	assert.Positive(t, outcome.ExpectedProfit.Sign())
	assert.Equal(t, 1, outcome.Report.Accepted)
	assert.Equal(t, int64(1), f.simHits.Load())
	assert.Equal(t, int64(1), f.sendHits.Load())

	// Every stage's counters share the injected registry.
	families, err := f.reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["flasharb_runner_attempts_total"])
	assert.True(t, names["flasharb_preflight_runs_total"])
	assert.True(t, names["flasharb_bundle_broadcasts_total"])
	assert.True(t, names["flasharb_provider_fallbacks_total"])
	assert.True(t, names["flasharb_engine_executions_total"])
}

func TestExecuteFailsOverWhenTopProviderCannotLend(t *testing.T) {
	f := newFixture(t, false, true, true)

	outcome, err := f.runner.Execute(context.Background(), opportunity())
	require.NoError(t, err)

	assert.Equal(t, types.ProviderAaveV3, outcome.Provider)
	assert.Equal(t, 2, outcome.ProvidersTried)
	// The dead provider failed in preflight and never consumed a relay
	// call.
	assert.Equal(t, int64(1), f.simHits.Load())
}

func TestExecuteFailsWhenAllProvidersExhausted(t *testing.T) {
	f := newFixture(t, false, false, true)

	_, err := f.runner.Execute(context.Background(), opportunity())
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Zero(t, f.sendHits.Load())
}

func TestRelaySimulationFailureBlocksBroadcast(t *testing.T) {
	f := newFixture(t, true, true, false)

	_, err := f.runner.Execute(context.Background(), opportunity())
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, int64(2), f.simHits.Load(), "both providers reach the relay")
	assert.Zero(t, f.sendHits.Load(), "nothing is broadcast past a failed simulation")
}

func TestExecuteEnforcesProfitFloor(t *testing.T) {
	f := newFixture(t, true, true, true)

	opp := opportunity()
	opp.MinProfit = big.NewInt(1_000_000_000)

	_, err := f.runner.Execute(context.Background(), opp)
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Zero(t, f.simHits.Load(), "sub-floor candidates never reach the relay")
}

func TestExecuteRejectsUnsupportedToken(t *testing.T) {
	f := newFixture(t, true, true, true)

	opp := opportunity()
	opp.TokenIn = weth
	opp.TokenMid = usdc

	_, err := f.runner.Execute(context.Background(), opp)
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Zero(t, f.simHits.Load())
}
