// Package chain provides EVM access for frog: contract reads, executor
// signed writes with nonce sequencing, and receipt polling.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/the-pines/frog/pkg/logger"
)

// DefaultTxWaitTimeout is the default timeout for waiting for a receipt.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the default interval for polling receipts.
const DefaultPollInterval = 2 * time.Second

// ErrTxReverted is returned by WaitMined for receipts with a failed status.
var ErrTxReverted = errors.New("transaction reverted")

// ErrBroadcastUnknown is returned by WriteContract when a signed
// transaction may have reached the node. The returned hash identifies it.
var ErrBroadcastUnknown = errors.New("broadcast outcome unknown")

// Reader performs read-only contract calls.
type Reader interface {
	ReadContract(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// Writer submits transactions signed by the executor account.
type Writer interface {
	WriteContract(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Executor() common.Address
}

// Backend is everything the services need from the chain.
type Backend interface {
	Reader
	Writer
	ChainID() *big.Int
}

// EthBackend is the subset of ethclient.Client used by Client.
type EthBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config holds client configuration.
type Config struct {
	RPCURL        string
	ChainID       int64
	PrivateKeyHex string
	Locker        Locker
	PollInterval  time.Duration
	WaitTimeout   time.Duration
	Logger        *logger.Logger
}

// Client is the executor's view of one EVM chain.
type Client struct {
	eth          EthBackend
	key          *ecdsa.PrivateKey
	executor     common.Address
	chainID      *big.Int
	locker       Locker
	nonces       *NonceManager
	pollInterval time.Duration
	waitTimeout  time.Duration
	closer       func()
	log          *logger.Logger
}

var _ Backend = (*Client)(nil)

// Dial connects to cfg.RPCURL and verifies the remote chain id.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	remote, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = remote.Int64()
	} else if remote.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("rpc serves chain %s, configured %d", remote, cfg.ChainID)
	}

	c, err := NewClient(eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// ExecutorAddress derives the executor account from a hex private key.
func ExecutorAddress(privateKeyHex string) (common.Address, error) {
	key, err := parseKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse executor private key: %w", err)
	}
	return key, nil
}

// NewClient wraps an existing backend.
func NewClient(eth EthBackend, cfg Config) (*Client, error) {
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("executor private key required")
	}
	key, err := parseKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultTxWaitTimeout
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("chain")
	}

	return &Client{
		eth:          eth,
		key:          key,
		executor:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:      big.NewInt(cfg.ChainID),
		locker:       locker,
		nonces:       &NonceManager{},
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
		log:          log,
	}, nil
}

// Executor returns the signer address.
func (c *Client) Executor() common.Address { return c.executor }

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close releases the RPC connection if Dial opened it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Ping checks the RPC endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.eth.HeaderByNumber(ctx, nil)
	return err
}

// ReadContract packs method and args, performs eth_call against the latest
// block and unpacks the outputs.
func (c *Client) ReadContract(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: c.executor, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), bind.ErrNoCode)
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// WriteContract signs and broadcasts a call from the executor. Submissions
// are serialised through the configured Locker; the nonce is the larger of
// the locally tracked next nonce and the node's pending nonce. A send that
// fails without a node rejection returns the hash with ErrBroadcastUnknown.
func (c *Client) WriteContract(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	unlock, err := c.locker.Lock(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("acquire signer lock: %w", err)
	}
	defer unlock()

	nonce, err := c.nonces.Next(ctx, func(ctx context.Context) (uint64, error) {
		return c.eth.PendingNonceAt(ctx, c.executor)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("read pending nonce: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.NoSend = true

	bound := bind.NewBoundContract(to, *contract, c.eth, c.eth, c.eth)
	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		c.nonces.Reset()
		return common.Hash{}, fmt.Errorf("build %s for %s: %w", method, to.Hex(), err)
	}

	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		c.nonces.Reset()
		if rejected(err) {
			return common.Hash{}, fmt.Errorf("send %s to %s: %w", method, to.Hex(), err)
		}
		c.log.WithError(err).WithFields(map[string]interface{}{
			"method": method,
			"to":     to.Hex(),
			"nonce":  nonce,
			"tx":     tx.Hash().Hex(),
		}).Warn("transaction broadcast outcome unknown")
		return tx.Hash(), fmt.Errorf("send %s to %s: %w: %w", method, to.Hex(), ErrBroadcastUnknown, err)
	}
	c.nonces.Commit(nonce)

	c.log.WithFields(map[string]interface{}{
		"method": method,
		"to":     to.Hex(),
		"nonce":  nonce,
		"tx":     tx.Hash().Hex(),
	}).Info("transaction submitted")
	return tx.Hash(), nil
}

// rejected reports whether the node answered the send with a JSON-RPC
// error, which means the transaction was not accepted.
func rejected(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// WaitMined polls for the receipt of hash until it is available, the
// configured wait timeout elapses or ctx is done. A missing receipt is
// treated as transient.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	wctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(wctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrTxReverted, hash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-wctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash.Hex(), wctx.Err())
		case <-ticker.C:
		}
	}
}
