package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	contentTypeJSON  = "application/json"
	flashbotsXHeader = "X-Flashbots-Signature"

	methodSendBundle   = "eth_sendBundle"
	methodCallBundle   = "eth_callBundle"
	methodGetUserStats = "flashbots_getUserStats"

	defaultTimeout = 3 * time.Second
)

// Client speaks the Flashbots JSON-RPC dialect to a single relay or
// builder endpoint. Every request body is signed with the auth key and
// carried in the X-Flashbots-Signature header.
type Client struct {
	httpClient *http.Client
	endpoint   string
	authKey    *ecdsa.PrivateKey
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a signed-request client for one endpoint. rps caps
// outbound request rate; relays ban noisy searchers.
func NewClient(endpoint string, authKey *ecdsa.PrivateKey, rps float64, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   endpoint,
		authKey:    authKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// Endpoint returns the URL this client submits to.
func (c *Client) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call signs the request body and posts it, decoding the result into
// out when non-nil.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	signature, err := crypto.Sign(
		accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))),
		c.authKey,
	)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	header := fmt.Sprintf("%s:%s",
		crypto.PubkeyToAddress(c.authKey.PublicKey).Hex(),
		hexutil.Encode(signature),
	)

	req.Header.Add("Content-Type", contentTypeJSON)
	req.Header.Add("Accept", contentTypeJSON)
	req.Header.Add(flashbotsXHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", c.endpoint, resp.StatusCode, string(body))
	}

	var envelope struct {
		Error  *rpcError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

type bundleParams struct {
	Txs               []string `json:"txs"`
	BlockNumber       string   `json:"blockNumber"`
	MinTimestamp      uint64   `json:"minTimestamp,omitempty"`
	MaxTimestamp      uint64   `json:"maxTimestamp,omitempty"`
	RevertingTxHashes []string `json:"revertingTxHashes,omitempty"`
	StateBlockNumber  string   `json:"stateBlockNumber,omitempty"`
}

func newBundleParams(bundle *Bundle) bundleParams {
	p := bundleParams{
		Txs:          bundle.rawTxs(),
		BlockNumber:  hexutil.EncodeUint64(bundle.TargetBlock),
		MinTimestamp: bundle.MinTimestamp,
		MaxTimestamp: bundle.MaxTimestamp,
	}
	for _, h := range bundle.revertingHashes() {
		p.RevertingTxHashes = append(p.RevertingTxHashes, h.Hex())
	}
	return p
}

// SendBundle submits the bundle for inclusion in its target block.
func (c *Client) SendBundle(ctx context.Context, bundle *Bundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}

	var result struct {
		BundleHash string `json:"bundleHash"`
	}
	if err := c.call(ctx, methodSendBundle, []interface{}{newBundleParams(bundle)}, &result); err != nil {
		return err
	}

	c.logger.Debug("bundle submitted",
		zap.String("endpoint", c.endpoint),
		zap.Uint64("target_block", bundle.TargetBlock),
		zap.String("bundle_hash", result.BundleHash))
	return nil
}

// TxSimResult is the relay's verdict on one transaction in the bundle.
type TxSimResult struct {
	TxHash  string `json:"txHash"`
	GasUsed uint64 `json:"gasUsed"`
	Error   string `json:"error"`
	Revert  string `json:"revert"`
}

// Simulation is the outcome of eth_callBundle against the state at the
// block before the target.
type Simulation struct {
	BundleHash       string        `json:"bundleHash"`
	TotalGasUsed     uint64        `json:"totalGasUsed"`
	StateBlockNumber uint64        `json:"stateBlockNumber"`
	CoinbaseDiff     string        `json:"coinbaseDiff"`
	Results          []TxSimResult `json:"results"`
}

// SimulateBundle executes the bundle against the parent of its target
// block without submitting it. Any transaction error or disallowed
// revert fails the whole simulation; a failed simulation must gate
// broadcast.
func (c *Client) SimulateBundle(ctx context.Context, bundle *Bundle) (*Simulation, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	p := newBundleParams(bundle)
	p.StateBlockNumber = hexutil.EncodeUint64(bundle.TargetBlock - 1)

	var sim Simulation
	if err := c.call(ctx, methodCallBundle, []interface{}{p}, &sim); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSimulationFailed, err)
	}

	for i, r := range sim.Results {
		if r.Error == "" && r.Revert == "" {
			continue
		}
		if r.Revert != "" && i < len(bundle.Txs) && bundle.Txs[i].CanRevert {
			continue
		}
		return nil, fmt.Errorf("%w: tx %d: %s%s", ErrSimulationFailed, i, r.Error, r.Revert)
	}
	return &sim, nil
}

// UserStats mirrors flashbots_getUserStats.
type UserStats struct {
	IsHighPriority       bool   `json:"is_high_priority"`
	AllTimeMinerPayments string `json:"all_time_miner_payments"`
	AllTimeGasSimulated  string `json:"all_time_gas_simulated"`
	Last7dMinerPayments  string `json:"last_7d_miner_payments"`
}

// GetUserStats reports the signer's standing with the relay.
func (c *Client) GetUserStats(ctx context.Context, blockNumber uint64) (*UserStats, error) {
	var stats UserStats
	err := c.call(ctx, methodGetUserStats, []interface{}{hexutil.EncodeUint64(blockNumber)}, &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
