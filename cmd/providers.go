package cmd

import (
	"fmt"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mevkit/flasharb/config"
	"github.com/mevkit/flasharb/flashloan"
	"github.com/mevkit/flasharb/types"
	"github.com/mevkit/flasharb/utils"
	"github.com/mevkit/flasharb/utils/math"
	"github.com/mevkit/flasharb/utils/metrics"
)

var (
	providersToken    string
	providersAmount   string
	providersUrgency  string
	providersDecimals int
	providersAll      bool
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Rank flash loan providers for a token and amount",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		registry, err := loadRegistry()
		if err != nil {
			return err
		}

		token := common.HexToAddress(providersToken)
		amount, err := math.ParseUnits(providersAmount, providersDecimals)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		urgency := types.Urgency(providersUrgency)

		selector := flashloan.NewSelector(registry, metrics.Registry(), log)
		ranked := selector.Rank(token, amount, urgency)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tPROVIDER\tFEE\tMAX LIQUIDITY\tRELIABILITY\tLATENCY\tSCORE")
		for i, c := range ranked {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%.0fms\t%.2f\n",
				i+1,
				c.Entry.Name,
				math.FormatBps(c.Entry.FeeBps),
				math.FormatUnits(c.Entry.MaxLiquidity, providersDecimals),
				c.Entry.Reliability,
				c.Entry.AvgLatencyMs,
				c.Score,
			)
		}

		if providersAll {
			for _, e := range registry.Entries() {
				if e.Executable && e.Supports(token) && inRange(e, amount) {
					continue
				}
				reason := "no execution handler"
				switch {
				case e.Executable && !e.Supports(token):
					reason = "token unsupported"
				case e.Executable:
					reason = "amount out of range"
				}
				fmt.Fprintf(w, "-\t%s\t%s\t%s\t%.2f\t%.0fms\t(%s)\n",
					e.Name,
					math.FormatBps(e.FeeBps),
					math.FormatUnits(e.MaxLiquidity, providersDecimals),
					e.Reliability,
					e.AvgLatencyMs,
					reason,
				)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(ranked) == 0 {
			log.Warn("no executable provider matches the request, execution would fall back",
				zap.String("fallback", flashloan.FallbackProvider.String()))
		}
		return nil
	},
}

func inRange(e *flashloan.Entry, amount *big.Int) bool {
	if e.MinAmount != nil && amount.Cmp(e.MinAmount) < 0 {
		return false
	}
	return e.MaxLiquidity.Cmp(amount) >= 0
}

// loadRegistry prefers the registry file named in the config and falls
// back to the built-in mainnet defaults.
func loadRegistry() (*flashloan.Registry, error) {
	if cfg, err := config.LoadConfig(cfgFile); err == nil && cfg.RegistryPath != "" {
		return flashloan.LoadRegistry(cfg.RegistryPath)
	}
	return flashloan.DefaultRegistry(), nil
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.Flags().StringVar(&providersToken, "token", "", "loan token address")
	providersCmd.Flags().StringVar(&providersAmount, "amount", "", "loan amount in whole tokens")
	providersCmd.Flags().StringVar(&providersUrgency, "urgency", string(types.UrgencyNormal), "selection urgency (normal|high)")
	providersCmd.Flags().IntVar(&providersDecimals, "decimals", 18, "token decimals")
	providersCmd.Flags().BoolVar(&providersAll, "all", false, "include providers that cannot serve the request")
	_ = providersCmd.MarkFlagRequired("token")
	_ = providersCmd.MarkFlagRequired("amount")
}
