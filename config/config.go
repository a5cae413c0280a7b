// Package config loads and validates runtime configuration: a JSON
// file for tunables, environment variables for secrets, and a YAML
// registry file for provider characteristics.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const defaultConfigName = ".flasharb.json"

// Config is the full runtime configuration.
type Config struct {
	// Chain and network settings
	ChainID     uint64 `json:"chain_id"`
	RPCEndpoint string `json:"rpc_endpoint"`

	// Relay and builder endpoints
	RelayURL    string   `json:"relay_url"`
	BuilderURLs []string `json:"builder_urls"`

	// Executor contract
	ExecutorAddress common.Address `json:"executor_address"`

	// Provider registry
	RegistryPath string `json:"registry_path"`

	// Execution limits
	GasLimit           uint64   `json:"gas_limit"`
	MaxFeePerGas       *big.Int `json:"max_fee_per_gas"`
	MaxPriorityFee     *big.Int `json:"max_priority_fee"`
	MinProfitThreshold *big.Int `json:"min_profit_threshold"`

	// Network behavior
	NetworkTimeout time.Duration `json:"network_timeout"`

	// Rate limits
	RelayRateLimit   RateLimitConfig `json:"relay_rate_limit"`
	BuilderRateLimit RateLimitConfig `json:"builder_rate_limit"`

	// Metrics
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`
}

// RateLimitConfig caps outbound request rate to one endpoint class.
type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	WaitTimeout       time.Duration `json:"wait_timeout"`
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	return nil
}

// ValidateConfig checks every section and reports all problems at once.
func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain ID must be set")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "RPC endpoint must be set")
	}
	if c.RelayURL == "" {
		errors = append(errors, "relay URL must be set")
	}
	if len(c.BuilderURLs) == 0 {
		errors = append(errors, "at least one builder URL must be set")
	}
	if c.ExecutorAddress == (common.Address{}) {
		errors = append(errors, "executor address must be set")
	}
	if c.GasLimit == 0 {
		errors = append(errors, "gas limit must be positive")
	}
	if c.MaxFeePerGas == nil || c.MaxFeePerGas.Sign() <= 0 {
		errors = append(errors, "max fee per gas must be positive")
	}
	if c.MaxPriorityFee == nil || c.MaxPriorityFee.Sign() <= 0 {
		errors = append(errors, "max priority fee must be positive")
	}
	if c.MinProfitThreshold == nil || c.MinProfitThreshold.Sign() < 0 {
		errors = append(errors, "min profit threshold must be non-negative")
	}
	if c.NetworkTimeout <= 0 {
		errors = append(errors, "network timeout must be positive")
	}
	if err := c.RelayRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("relay rate limit error: %v", err))
	}
	if err := c.BuilderRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("builder rate limit error: %v", err))
	}
	if c.PrometheusEnabled && c.PrometheusEndpoint == "" {
		errors = append(errors, "prometheus endpoint must be set when prometheus is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// DefaultConfig returns mainnet defaults. The executor address has no
// sane default and must come from the config file.
func DefaultConfig() *Config {
	return &Config{
		ChainID:     1,
		RPCEndpoint: "http://localhost:8545",
		RelayURL:    "https://relay.flashbots.net",
		BuilderURLs: []string{
			"https://relay.flashbots.net",
			"https://rpc.beaverbuild.org",
			"https://rsync-builder.xyz",
			"https://rpc.titanbuilder.xyz",
		},
		GasLimit:           800_000,
		MaxFeePerGas:       big.NewInt(500_000_000_000), // 500 gwei
		MaxPriorityFee:     big.NewInt(2_000_000_000),   // 2 gwei
		MinProfitThreshold: big.NewInt(100_000_000_000_000_000), // 0.1 ETH
		NetworkTimeout:     5 * time.Second,
		RelayRateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			BurstSize:         2,
			WaitTimeout:       3 * time.Second,
		},
		BuilderRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         4,
			WaitTimeout:       3 * time.Second,
		},
		PrometheusEnabled:  true,
		PrometheusEndpoint: ":9090",
	}
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigName), nil
}

// LoadConfig reads, decodes, and validates a config file. An empty path
// falls back to ~/.flasharb.json.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		var err error
		if cfgFile, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the config as indented JSON.
func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		var err error
		if cfgFile, err = defaultConfigPath(); err != nil {
			return err
		}
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}
