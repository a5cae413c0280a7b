package cmd

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mevkit/flasharb/arbitrage"
	"github.com/mevkit/flasharb/config"
	"github.com/mevkit/flasharb/engine"
	"github.com/mevkit/flasharb/flashbots"
	"github.com/mevkit/flasharb/flashloan"
	"github.com/mevkit/flasharb/simulator"
	"github.com/mevkit/flasharb/types"
	"github.com/mevkit/flasharb/utils"
	"github.com/mevkit/flasharb/utils/math"
	"github.com/mevkit/flasharb/utils/metrics"
	"github.com/mevkit/flasharb/utils/monitor"
)

var (
	runRouter1   string
	runRouter2   string
	runToken     string
	runTokenMid  string
	runAmount    string
	runMinMid    string
	runMinFinal  string
	runUrgency   string
	runDecimals  int
	runBlocksOut uint64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one arbitrage attempt through the private relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		ctx := cmd.Context()

		if err := config.LoadEnv(); err != nil {
			return fmt.Errorf("failed to load environment: %w", err)
		}
		secure, err := config.LoadSecureConfig()
		if err != nil {
			return err
		}
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		registry, err := loadRegistry()
		if err != nil {
			return err
		}

		if cfg.PrometheusEnabled {
			mon, err := monitor.NewSystemMonitor(ctx, metrics.Registry(), log)
			if err != nil {
				return err
			}
			defer mon.Cleanup()
			go func() {
				if err := metrics.Serve(cfg.PrometheusEndpoint, log); err != nil {
					log.Warn("metrics endpoint stopped", zap.Error(err))
				}
			}()
		}

		opp, err := parseOpportunity()
		if err != nil {
			return err
		}
		opp.MinProfit = cfg.MinProfitThreshold

		client, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to node: %w", err)
		}
		defer client.Close()

		currentBlock, err := client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch block number: %w", err)
		}
		sender := crypto.PubkeyToAddress(secure.PrivateKey.PublicKey)
		nonce, err := client.PendingNonceAt(ctx, sender)
		if err != nil {
			return fmt.Errorf("failed to fetch nonce: %w", err)
		}
		opp.CurrentBlock = currentBlock
		opp.TargetBlock = currentBlock + runBlocksOut
		opp.Nonce = nonce

		eng, err := buildModel(ctx, client, cfg, registry, sender, opp, log)
		if err != nil {
			return err
		}

		relay := flashbots.NewClient(cfg.RelayURL, secure.FlashbotsKey, cfg.RelayRateLimit.RequestsPerSecond, log)
		builders := make([]*flashbots.Client, 0, len(cfg.BuilderURLs))
		for _, url := range cfg.BuilderURLs {
			builders = append(builders, flashbots.NewClient(url, secure.FlashbotsKey, cfg.BuilderRateLimit.RequestsPerSecond, log))
		}
		broadcaster, err := flashbots.NewBroadcaster(builders, metrics.Registry(), log)
		if err != nil {
			return err
		}

		runner := arbitrage.NewRunner(
			flashloan.NewSelector(registry, metrics.Registry(), log),
			simulator.NewSimulator(eng, metrics.Registry(), log),
			relay,
			broadcaster,
			cfg.ExecutorAddress,
			secure.PrivateKey,
			new(big.Int).SetUint64(cfg.ChainID),
			arbitrage.GasConfig{
				GasLimit: cfg.GasLimit,
				MaxFee:   cfg.MaxFeePerGas,
				MaxTip:   cfg.MaxPriorityFee,
			},
			metrics.Registry(),
			log,
		)

		outcome, err := runner.Execute(ctx, opp)
		if err != nil {
			return err
		}

		fmt.Printf("provider:        %s\n", outcome.Provider)
		fmt.Printf("expected profit: %s\n", math.FormatUnits(outcome.ExpectedProfit, runDecimals))
		fmt.Printf("target block:    %d\n", opp.TargetBlock)
		fmt.Printf("builders:        %d/%d accepted\n", outcome.Report.Accepted, len(outcome.Report.Outcomes))
		return nil
	},
}

// parseOpportunity validates the trade flags. An omitted second-leg
// minimum defaults to the borrowed amount so the trade can never lock
// in a loss.
func parseOpportunity() (*arbitrage.Opportunity, error) {
	amount, err := math.ParseUnits(runAmount, runDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	minMid := big.NewInt(1)
	if runMinMid != "" {
		if minMid, err = math.ParseUnits(runMinMid, runDecimals); err != nil {
			return nil, fmt.Errorf("invalid min-mid: %w", err)
		}
	}
	minFinal := new(big.Int).Set(amount)
	if runMinFinal != "" {
		if minFinal, err = math.ParseUnits(runMinFinal, runDecimals); err != nil {
			return nil, fmt.Errorf("invalid min-final: %w", err)
		}
	}

	return &arbitrage.Opportunity{
		Router1:        common.HexToAddress(runRouter1),
		Router2:        common.HexToAddress(runRouter2),
		TokenIn:        common.HexToAddress(runToken),
		TokenMid:       common.HexToAddress(runTokenMid),
		AmountIn:       amount,
		MinAmountMid:   minMid,
		MinAmountFinal: minFinal,
		Urgency:        types.Urgency(runUrgency),
	}, nil
}

// buildModel snapshots the on-chain balances the trade touches into a
// local ChainState and assembles the engine over it.
func buildModel(
	ctx context.Context,
	client *ethclient.Client,
	cfg *config.Config,
	registry *flashloan.Registry,
	owner common.Address,
	opp *arbitrage.Opportunity,
	log *zap.Logger,
) (*engine.Engine, error) {
	st := engine.NewChainState()

	type slot struct {
		token  common.Address
		holder common.Address
	}
	slots := []slot{
		{opp.TokenIn, opp.Router1},
		{opp.TokenMid, opp.Router1},
		{opp.TokenIn, opp.Router2},
		{opp.TokenMid, opp.Router2},
		{opp.TokenIn, cfg.ExecutorAddress},
	}
	for _, e := range registry.Entries() {
		if e.Executable && e.Supports(opp.TokenIn) && e.Pool != (common.Address{}) {
			slots = append(slots, slot{opp.TokenIn, e.Pool})
		}
	}

	for _, s := range slots {
		balance, err := erc20BalanceOf(ctx, client, s.token, s.holder)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch balance of %s for %s: %w", s.holder.Hex(), s.token.Hex(), err)
		}
		st.Mint(s.token, s.holder, balance)
	}

	eng := engine.NewEngine(cfg.ExecutorAddress, owner, st, metrics.Registry(), log)
	eng.RegisterRouter(engine.NewPairRouter(opp.Router1, opp.TokenIn, opp.TokenMid))
	eng.RegisterRouter(engine.NewPairRouter(opp.Router2, opp.TokenMid, opp.TokenIn))

	for _, e := range registry.Entries() {
		if !e.Executable {
			continue
		}
		switch e.ID {
		case types.ProviderAaveV3:
			eng.RegisterLender(engine.NewAaveV3Pool(e.Pool, e.FeeBps))
		case types.ProviderBalancer:
			eng.RegisterLender(engine.NewBalancerVault(e.Pool))
		case types.ProviderUniswapV3:
			eng.RegisterLender(engine.NewUniswapV3Lender(e.FeeBps))
			if e.Pool != (common.Address{}) {
				if err := eng.SetPool(owner, opp.TokenIn, e.Pool); err != nil {
					return nil, err
				}
			}
		}
	}
	return eng, nil
}

const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var erc20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

func erc20BalanceOf(ctx context.Context, client *ethclient.Client, token, holder common.Address) (*big.Int, error) {
	data, err := erc20.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	results, err := erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type")
	}
	return balance, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runRouter1, "router1", "", "first leg router address")
	runCmd.Flags().StringVar(&runRouter2, "router2", "", "second leg router address")
	runCmd.Flags().StringVar(&runToken, "token", "", "loan token address")
	runCmd.Flags().StringVar(&runTokenMid, "token-mid", "", "intermediate token address")
	runCmd.Flags().StringVar(&runAmount, "amount", "", "loan amount in whole tokens")
	runCmd.Flags().StringVar(&runMinMid, "min-mid", "", "minimum first leg output (default 1 wei)")
	runCmd.Flags().StringVar(&runMinFinal, "min-final", "", "minimum second leg output (default: loan amount)")
	runCmd.Flags().StringVar(&runUrgency, "urgency", string(types.UrgencyNormal), "selection urgency (normal|high)")
	runCmd.Flags().IntVar(&runDecimals, "decimals", 18, "token decimals")
	runCmd.Flags().Uint64Var(&runBlocksOut, "blocks-out", 1, "blocks ahead to target")

	for _, flag := range []string{"router1", "router2", "token", "token-mid", "amount"} {
		_ = runCmd.MarkFlagRequired(flag)
	}
}
