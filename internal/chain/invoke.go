package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/the-pines/frog/internal/app/metrics"
)

// TxResult is a mined executor transaction.
type TxResult struct {
	Hash    common.Hash
	Receipt *types.Receipt
}

// Call performs a read and wraps failures with the method name.
func Call(ctx context.Context, r Reader, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	out, err := r.ReadContract(ctx, to, contract, method, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", method, err)
	}
	return out, nil
}

// Transact submits a write and blocks until it is mined. The result is nil
// only when nothing was broadcast; otherwise it carries the hash even on
// error.
func Transact(ctx context.Context, w Writer, to common.Address, contract *abi.ABI, method string, args ...interface{}) (*TxResult, error) {
	start := time.Now()

	hash, err := w.WriteContract(ctx, to, contract, method, args...)
	if err != nil {
		metrics.RecordChainTransaction(method, false, 0)
		if errors.Is(err, ErrBroadcastUnknown) {
			return &TxResult{Hash: hash}, fmt.Errorf("invoke %s: %w", method, err)
		}
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}

	receipt, err := w.WaitMined(ctx, hash)
	metrics.RecordChainTransaction(method, err == nil, time.Since(start))
	if err != nil {
		return &TxResult{Hash: hash, Receipt: receipt}, fmt.Errorf("wait for %s: %w", method, err)
	}
	return &TxResult{Hash: hash, Receipt: receipt}, nil
}
