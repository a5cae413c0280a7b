// Package flashbots submits transaction bundles to private relay and
// builder endpoints instead of the public mempool, so a failed attempt
// costs nothing and a pending one cannot be front-run.
package flashbots

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyBundle      = errors.New("bundle contains no transactions")
	ErrStaleBundle      = errors.New("bundle target block already passed")
	ErrDuplicateBundle  = errors.New("bundle already submitted for this block")
	ErrSimulationFailed = errors.New("bundle simulation failed")
)

// BundleTx is one raw transaction inside a bundle. CanRevert marks
// transactions whose on-chain revert should not invalidate the bundle.
type BundleTx struct {
	Raw       string // 0x-prefixed RLP
	Hash      common.Hash
	CanRevert bool
}

// Bundle is an ordered transaction list bound to a single target block.
// It is dead the moment that block passes; resubmission means building
// a new bundle for a later block.
type Bundle struct {
	Txs          []BundleTx
	TargetBlock  uint64
	MinTimestamp uint64
	MaxTimestamp uint64
}

// Validate rejects bundles that no relay would accept. A zero target
// block is refused here so simulation never derives a parent state
// block from it.
func (b *Bundle) Validate() error {
	if len(b.Txs) == 0 {
		return ErrEmptyBundle
	}
	if b.TargetBlock == 0 {
		return fmt.Errorf("bundle has no target block")
	}
	for i, tx := range b.Txs {
		if tx.Raw == "" {
			return fmt.Errorf("transaction %d has no raw payload", i)
		}
	}
	return nil
}

// rawTxs returns the transactions in submission order.
func (b *Bundle) rawTxs() []string {
	txs := make([]string, len(b.Txs))
	for i, tx := range b.Txs {
		txs[i] = tx.Raw
	}
	return txs
}

// revertingHashes lists the hashes the relay may let revert.
func (b *Bundle) revertingHashes() []common.Hash {
	var hashes []common.Hash
	for _, tx := range b.Txs {
		if tx.CanRevert {
			hashes = append(hashes, tx.Hash)
		}
	}
	return hashes
}

// key fingerprints (txs, target block) for duplicate suppression.
func (b *Bundle) key() uint64 {
	h := xxhash.New()
	for _, tx := range b.Txs {
		_, _ = h.WriteString(tx.Raw)
	}
	_, _ = h.WriteString(strconv.FormatUint(b.TargetBlock, 10))
	return h.Sum64()
}
