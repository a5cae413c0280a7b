// Package flashloan provides the provider registry and the scoring
// selector used to pick a lender for a given loan request.
package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/mevkit/flasharb/types"
)

// Entry describes one lender's static characteristics. Entries are
// immutable once the registry is built; live liquidity data arrives via
// Registry.Refresh which produces a new snapshot.
type Entry struct {
	Name            string
	ID              types.ProviderID
	Pool            common.Address
	FeeBps          uint16
	MaxLiquidity    *big.Int
	MinAmount       *big.Int
	Reliability     float64 // [0,1]
	AvgLatencyMs    float64
	SupportedAssets map[common.Address]bool

	// Executable marks providers the execution engine has a callback
	// handler for. Handler-less entries stay visible in listings but are
	// never selected.
	Executable bool
}

// Supports reports whether the entry can lend the given token.
func (e *Entry) Supports(token common.Address) bool {
	return e.SupportedAssets[token]
}

// Fee returns the premium the lender charges on amount.
func (e *Entry) Fee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(e.FeeBps)))
	return fee.Div(fee, big.NewInt(10000))
}

// Registry is an immutable snapshot of lender characteristics, ordered
// by declaration. Declaration order breaks score ties.
type Registry struct {
	entries []*Entry
}

// NewRegistry builds a snapshot from entries, preserving order.
func NewRegistry(entries []*Entry) (*Registry, error) {
	seen := make(map[types.ProviderID]bool, len(entries))
	for _, e := range entries {
		if e.MaxLiquidity == nil || e.MaxLiquidity.Sign() <= 0 {
			return nil, fmt.Errorf("provider %s: max liquidity must be positive", e.Name)
		}
		if e.Reliability < 0 || e.Reliability > 1 {
			return nil, fmt.Errorf("provider %s: reliability must be in [0,1]", e.Name)
		}
		if e.AvgLatencyMs < 0 {
			return nil, fmt.Errorf("provider %s: negative latency", e.Name)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("provider %s: duplicate id %s", e.Name, e.ID)
		}
		seen[e.ID] = true
	}
	return &Registry{entries: entries}, nil
}

// Entries returns the snapshot's entries in declaration order.
func (r *Registry) Entries() []*Entry {
	return r.entries
}

// Lookup returns the entry for id, or nil.
func (r *Registry) Lookup(id types.ProviderID) *Entry {
	for _, e := range r.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// LiquiditySource supplies live available-liquidity figures, typically
// backed by on-chain reserve queries.
type LiquiditySource interface {
	AvailableLiquidity(ctx context.Context, id types.ProviderID, token common.Address) (*big.Int, error)
}

// Refresh returns a new snapshot whose liquidity ceilings come from src
// for the given token. The receiver is left untouched; selection keeps
// using whichever snapshot the caller holds.
func (r *Registry) Refresh(ctx context.Context, src LiquiditySource, token common.Address) (*Registry, error) {
	refreshed := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		clone := *e
		if e.Supports(token) {
			liquidity, err := src.AvailableLiquidity(ctx, e.ID, token)
			if err != nil {
				return nil, fmt.Errorf("failed to refresh %s liquidity: %w", e.Name, err)
			}
			clone.MaxLiquidity = new(big.Int).Set(liquidity)
		}
		refreshed = append(refreshed, &clone)
	}
	return NewRegistry(refreshed)
}

type registryFileEntry struct {
	Name            string   `yaml:"name"`
	Pool            string   `yaml:"pool"`
	FeeBps          uint16   `yaml:"fee_bps"`
	MaxLiquidity    string   `yaml:"max_liquidity"`
	MinAmount       string   `yaml:"min_amount"`
	Reliability     float64  `yaml:"reliability"`
	AvgLatencyMs    float64  `yaml:"avg_latency_ms"`
	SupportedAssets []string `yaml:"supported_assets"`
	Executable      bool     `yaml:"executable"`
}

type registryFile struct {
	Providers []registryFileEntry `yaml:"providers"`
}

// LoadRegistry reads a provider table from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("registry file %s lists no providers", path)
	}

	entries := make([]*Entry, 0, len(file.Providers))
	for _, p := range file.Providers {
		id, err := types.ParseProviderID(p.Name)
		if err != nil {
			return nil, err
		}

		maxLiquidity, ok := new(big.Int).SetString(p.MaxLiquidity, 10)
		if !ok {
			return nil, fmt.Errorf("provider %s: invalid max_liquidity %q", p.Name, p.MaxLiquidity)
		}
		minAmount := big.NewInt(0)
		if p.MinAmount != "" {
			if minAmount, ok = new(big.Int).SetString(p.MinAmount, 10); !ok {
				return nil, fmt.Errorf("provider %s: invalid min_amount %q", p.Name, p.MinAmount)
			}
		}

		assets := make(map[common.Address]bool, len(p.SupportedAssets))
		for _, a := range p.SupportedAssets {
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("provider %s: invalid asset address %q", p.Name, a)
			}
			assets[common.HexToAddress(a)] = true
		}

		entries = append(entries, &Entry{
			Name:            p.Name,
			ID:              id,
			Pool:            common.HexToAddress(p.Pool),
			FeeBps:          p.FeeBps,
			MaxLiquidity:    maxLiquidity,
			MinAmount:       minAmount,
			Reliability:     p.Reliability,
			AvgLatencyMs:    p.AvgLatencyMs,
			SupportedAssets: assets,
			Executable:      p.Executable,
		})
	}

	return NewRegistry(entries)
}
