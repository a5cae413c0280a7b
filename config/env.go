package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrivateKey   = "PRIVATE_KEY"
	EnvFlashbotsKey = "FLASHBOTS_KEY"
	EnvInfuraKey    = "INFURA_API_KEY"
	EnvNetwork      = "NETWORK" // mainnet, sepolia, holesky
)

// SecureConfig holds key material, loaded from the environment only.
// It never appears in the JSON config file.
type SecureConfig struct {
	PrivateKey   *ecdsa.PrivateKey
	FlashbotsKey *ecdsa.PrivateKey
}

// LoadEnv loads environment variables from a .env file when present.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetEnvWithDefault gets an environment variable with a default value.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetRequiredEnv gets an environment variable that must be set.
func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// LoadSecureConfig reads and parses key material from the environment.
// PRIVATE_KEY signs transactions; FLASHBOTS_KEY signs relay requests
// and should be a separate identity with no funds.
func LoadSecureConfig() (*SecureConfig, error) {
	privateKeyHex, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}
	privateKey, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	flashbotsKeyHex, err := GetRequiredEnv(EnvFlashbotsKey)
	if err != nil {
		return nil, fmt.Errorf("flashbots key not found: %w", err)
	}
	flashbotsKey, err := parseKey(flashbotsKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid flashbots key: %w", err)
	}

	return &SecureConfig{
		PrivateKey:   privateKey,
		FlashbotsKey: flashbotsKey,
	}, nil
}
