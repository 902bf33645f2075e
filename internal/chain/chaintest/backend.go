// Package chaintest provides an in-memory chain.Backend with scriptable
// contract stubs for service and handler tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/the-pines/frog/internal/chain"
)

// ErrRevert makes a write stub produce a mined transaction with a failed
// receipt instead of a submission error.
var ErrRevert = errors.New("execution reverted")

var errLostBroadcast = errors.New("chaintest: broadcast lost")

// ReadFunc answers a contract read.
type ReadFunc func(args []interface{}) ([]interface{}, error)

// WriteFunc applies the side effects of a write and returns emitted logs.
type WriteFunc func(args []interface{}) ([]*types.Log, error)

// Write is a submitted transaction.
type Write struct {
	To     common.Address
	Method string
	Args   []interface{}
	Hash   common.Hash
	Failed bool
}

type stubKey struct {
	to     common.Address
	method string
}

// Backend implements chain.Backend in memory.
type Backend struct {
	mu       sync.Mutex
	executor common.Address
	chainID  *big.Int
	reads    map[stubKey]ReadFunc
	writes   map[stubKey]WriteFunc
	sent     []Write
	receipts map[common.Hash]*types.Receipt
	seq      int64
}

var _ chain.Backend = (*Backend)(nil)

// New returns an empty backend for the given executor on chain 1135.
func New(executor common.Address) *Backend {
	return &Backend{
		executor: executor,
		chainID:  big.NewInt(1135),
		reads:    make(map[stubKey]ReadFunc),
		writes:   make(map[stubKey]WriteFunc),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (b *Backend) Executor() common.Address { return b.executor }

func (b *Backend) ChainID() *big.Int { return new(big.Int).Set(b.chainID) }

// OnRead installs a read handler.
func (b *Backend) OnRead(to common.Address, method string, fn ReadFunc) {
	b.mu.Lock()
	b.reads[stubKey{to, method}] = fn
	b.mu.Unlock()
}

// Returns installs a read that always yields values.
func (b *Backend) Returns(to common.Address, method string, values ...interface{}) {
	b.OnRead(to, method, func([]interface{}) ([]interface{}, error) { return values, nil })
}

// FailRead installs a read that always fails.
func (b *Backend) FailRead(to common.Address, method string, err error) {
	b.OnRead(to, method, func([]interface{}) ([]interface{}, error) { return nil, err })
}

// OnWrite installs a write handler.
func (b *Backend) OnWrite(to common.Address, method string, fn WriteFunc) {
	b.mu.Lock()
	b.writes[stubKey{to, method}] = fn
	b.mu.Unlock()
}

// FailWrite makes submissions of method to to fail before broadcast.
func (b *Backend) FailWrite(to common.Address, method string, err error) {
	b.OnWrite(to, method, func([]interface{}) ([]*types.Log, error) { return nil, err })
}

// LoseBroadcast makes submissions of method to to end with an unknown
// broadcast outcome: a hash is assigned but no receipt ever appears.
func (b *Backend) LoseBroadcast(to common.Address, method string) {
	b.OnWrite(to, method, func([]interface{}) ([]*types.Log, error) { return nil, errLostBroadcast })
}

// ReadContract dispatches to the installed read handler.
func (b *Backend) ReadContract(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	fn := b.reads[stubKey{to, method}]
	b.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("chaintest: no read stub for %s.%s", to.Hex(), method)
	}
	return fn(args)
}

// WriteContract records the call and applies the installed handler. Writes
// without a handler succeed with no side effects.
func (b *Backend) WriteContract(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	if _, ok := contract.Methods[method]; !ok {
		return common.Hash{}, fmt.Errorf("chaintest: method %s not in abi", method)
	}

	b.mu.Lock()
	fn := b.writes[stubKey{to, method}]
	b.mu.Unlock()

	var logs []*types.Log
	failed := false
	if fn != nil {
		var err error
		logs, err = fn(args)
		switch {
		case errors.Is(err, ErrRevert):
			failed = true
		case errors.Is(err, errLostBroadcast):
			b.mu.Lock()
			defer b.mu.Unlock()
			b.seq++
			hash := common.BigToHash(big.NewInt(0xf000 + b.seq))
			b.sent = append(b.sent, Write{To: to, Method: method, Args: args, Hash: hash})
			return hash, fmt.Errorf("send %s: %w", method, chain.ErrBroadcastUnknown)
		case err != nil:
			return common.Hash{}, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	hash := common.BigToHash(big.NewInt(0xf000 + b.seq))
	status := types.ReceiptStatusSuccessful
	if failed {
		status = types.ReceiptStatusFailed
	}
	for _, l := range logs {
		l.TxHash = hash
	}
	b.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		Logs:        logs,
		BlockNumber: big.NewInt(b.seq),
	}
	b.sent = append(b.sent, Write{To: to, Method: method, Args: args, Hash: hash, Failed: failed})
	return hash, nil
}

// WaitMined returns the receipt recorded by WriteContract.
func (b *Backend) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	receipt, ok := b.receipts[hash]
	b.mu.Unlock()
	if !ok {
		return nil, ethereum.NotFound
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", chain.ErrTxReverted, hash.Hex())
	}
	return receipt, nil
}

// Writes returns every submitted transaction in order.
func (b *Backend) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.sent))
	copy(out, b.sent)
	return out
}

// WritesOf returns submitted transactions for method.
func (b *Backend) WritesOf(method string) []Write {
	var out []Write
	for _, w := range b.Writes() {
		if w.Method == method {
			out = append(out, w)
		}
	}
	return out
}

// RevertAlways is a WriteFunc whose transactions mine and revert.
func RevertAlways([]interface{}) ([]*types.Log, error) { return nil, ErrRevert }
