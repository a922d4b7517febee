// Package erc721 moves escrowed assets on an ERC-721 contract. The ledger's
// identity is the operator key: listing pulls a token from the seller (who
// must have approved the operator) and a sale pushes it to the buyer.
package erc721

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrReverted is returned when the transfer transaction was mined but failed.
var ErrReverted = errors.New("erc721: transfer reverted")

// ReceiptReader reports the receipt of a mined transaction, returning
// ethereum.NotFound while it is still pending.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Backend is what the custodian needs from a node. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	ReceiptReader
}

// contract is the part of *bind.BoundContract the custodian calls.
type contract interface {
	Call(opts *bind.CallOpts, results *[]any, method string, params ...any) error
	Transact(opts *bind.TransactOpts, method string, params ...any) (*types.Transaction, error)
}

// Config tunes transaction submission.
type Config struct {
	// GasLimit is used as-is when non-zero; zero lets the node estimate.
	GasLimit uint64
	// PollInterval is how often a pending receipt is re-checked.
	PollInterval time.Duration
	// ReceiptTimeout bounds how long a transfer may stay unmined.
	ReceiptTimeout time.Duration
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 2 * time.Minute
	}
}

// Custodian implements domain.Custodian against ERC-721 contracts.
type Custodian struct {
	cfg      Config
	signer   *bind.TransactOpts
	receipts ReceiptReader
	bindTo   func(common.Address) contract
	logger   *slog.Logger

	mu    sync.Mutex
	bound map[common.Address]contract

	// txMu keeps submissions from one operator key in nonce order.
	txMu sync.Mutex
}

// Dial connects to an RPC endpoint and reports its chain id.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, *big.Int, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("erc721: dial %s: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("erc721: chain id: %w", err)
	}
	return client, chainID, nil
}

// New returns a custodian that signs with key on chainID.
func New(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, cfg Config, logger *slog.Logger) (*Custodian, error) {
	if backend == nil || key == nil || chainID == nil {
		return nil, errors.New("erc721: backend, key and chain id are required")
	}
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("erc721: parse abi: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("erc721: transactor: %w", err)
	}
	bindTo := func(addr common.Address) contract {
		return bind.NewBoundContract(addr, parsed, backend, backend, backend)
	}
	return newCustodian(signer, backend, bindTo, cfg, logger), nil
}

func newCustodian(signer *bind.TransactOpts, receipts ReceiptReader, bindTo func(common.Address) contract, cfg Config, logger *slog.Logger) *Custodian {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Custodian{
		cfg:      cfg,
		signer:   signer,
		receipts: receipts,
		bindTo:   bindTo,
		logger:   logger.With(slog.String("component", "custody.erc721")),
		bound:    make(map[common.Address]contract),
	}
}

// Operator is the address transactions are sent from. The ledger must be
// configured with this address as its own identity.
func (c *Custodian) Operator() common.Address { return c.signer.From }

func (c *Custodian) contractAt(addr common.Address) contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bc, ok := c.bound[addr]; ok {
		return bc
	}
	bc := c.bindTo(addr)
	c.bound[addr] = bc
	return bc
}

// OwnerOf returns the current holder of a token.
func (c *Custodian) OwnerOf(ctx context.Context, assetContract common.Address, assetID *big.Int) (common.Address, error) {
	var out []any
	if err := c.contractAt(assetContract).Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", assetID); err != nil {
		return common.Address{}, fmt.Errorf("erc721: ownerOf %s: %w", assetID, err)
	}
	return singleResult[common.Address](out, "ownerOf")
}

func (c *Custodian) approved(ctx context.Context, bc contract, owner common.Address, assetID *big.Int) (bool, error) {
	operator := c.Operator()
	var out []any
	if err := bc.Call(&bind.CallOpts{Context: ctx}, &out, "isApprovedForAll", owner, operator); err != nil {
		return false, fmt.Errorf("erc721: isApprovedForAll: %w", err)
	}
	all, err := singleResult[bool](out, "isApprovedForAll")
	if err != nil || all {
		return all, err
	}
	out = nil
	if err := bc.Call(&bind.CallOpts{Context: ctx}, &out, "getApproved", assetID); err != nil {
		return false, fmt.Errorf("erc721: getApproved: %w", err)
	}
	one, err := singleResult[common.Address](out, "getApproved")
	return one == operator, err
}

// TransferCustody sends transferFrom(from, to, assetID) and returns once the
// transaction is mined successfully and ownerOf reports the new holder. ctx
// only governs the checks before submission; a sent transaction is always
// waited for up to ReceiptTimeout.
func (c *Custodian) TransferCustody(ctx context.Context, assetContract common.Address, assetID *big.Int, from, to common.Address) error {
	bc := c.contractAt(assetContract)

	owner, err := c.OwnerOf(ctx, assetContract, assetID)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("erc721: token %s is held by %s, not %s", assetID, owner.Hex(), from.Hex())
	}
	if from != c.Operator() {
		ok, err := c.approved(ctx, bc, from, assetID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("erc721: %s has not approved operator %s", from.Hex(), c.Operator().Hex())
		}
	}

	c.txMu.Lock()
	tx, err := bc.Transact(c.transactOpts(ctx), "transferFrom", from, to, assetID)
	c.txMu.Unlock()
	if err != nil {
		return fmt.Errorf("erc721: transferFrom: %w", err)
	}

	// The transaction is out; its outcome no longer depends on the caller.
	// Only ReceiptTimeout bounds the wait from here on.
	ctx = context.WithoutCancel(ctx)
	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		c.logger.ErrorContext(ctx, "transfer sent but not confirmed",
			slog.String("contract", assetContract.Hex()),
			slog.String("token_id", assetID.String()),
			slog.String("tx", tx.Hash().Hex()),
			slog.String("error", err.Error()),
		)
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s", ErrReverted, tx.Hash().Hex())
	}

	holder, err := c.OwnerOf(ctx, assetContract, assetID)
	if err != nil {
		return err
	}
	if holder != to {
		return fmt.Errorf("erc721: tx %s mined but token %s is held by %s", tx.Hash().Hex(), assetID, holder.Hex())
	}

	c.logger.InfoContext(ctx, "custody transfer confirmed",
		slog.String("contract", assetContract.Hex()),
		slog.String("token_id", assetID.String()),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return nil
}

func (c *Custodian) transactOpts(ctx context.Context) *bind.TransactOpts {
	return &bind.TransactOpts{
		From:     c.signer.From,
		Signer:   c.signer.Signer,
		GasLimit: c.cfg.GasLimit,
		Context:  ctx,
	}
}

func (c *Custodian) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.receipts.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("erc721: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("erc721: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func singleResult[T any](out []any, method string) (T, error) {
	var zero T
	if len(out) != 1 {
		return zero, fmt.Errorf("erc721: %s returned %d values", method, len(out))
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("erc721: %s returned %T", method, out[0])
	}
	return v, nil
}
