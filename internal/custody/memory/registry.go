// Package memory tracks asset ownership in process. It stands in for an
// on-chain asset contract in tests and single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

var _ domain.Custodian = (*Registry)(nil)

var (
	// ErrUnknownAsset is returned for an asset the registry has never seen.
	ErrUnknownAsset = errors.New("custody: unknown asset")
	// ErrNotHolder is returned when from does not hold the asset.
	ErrNotHolder = errors.New("custody: sender does not hold asset")
	// ErrNotApproved is returned when the operator may not move from's assets.
	ErrNotApproved = errors.New("custody: operator not approved")
)

type assetKey struct {
	contract common.Address
	id       string
}

func keyOf(contract common.Address, id *big.Int) assetKey {
	return assetKey{contract: contract, id: id.String()}
}

// Option configures a Registry.
type Option func(*Registry)

// WithOpenCustody makes the first transfer of an unseen asset register it as
// held by the sender and drops the operator approval requirement.
func WithOpenCustody() Option {
	return func(r *Registry) { r.open = true }
}

// Registry records the holder of every asset and which operators each holder
// has approved. The operator is the identity TransferCustody acts as.
type Registry struct {
	mu        sync.RWMutex
	operator  common.Address
	owners    map[assetKey]common.Address
	approvals map[common.Address]map[common.Address]bool
	open      bool
}

// NewRegistry returns a registry whose transfers are performed by operator.
func NewRegistry(operator common.Address, opts ...Option) *Registry {
	r := &Registry{
		operator:  operator,
		owners:    make(map[assetKey]common.Address),
		approvals: make(map[common.Address]map[common.Address]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mint registers a new asset held by owner.
func (r *Registry) Mint(contract common.Address, id *big.Int, owner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(contract, id)
	if _, ok := r.owners[k]; ok {
		return fmt.Errorf("custody: mint %s/%s: already exists", contract.Hex(), id)
	}
	r.owners[k] = owner
	return nil
}

// SetApprovalForAll lets operator move every asset held by owner.
func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.approvals[owner]
	if m == nil {
		m = make(map[common.Address]bool)
		r.approvals[owner] = m
	}
	m[operator] = approved
}

// OwnerOf returns the current holder of an asset.
func (r *Registry) OwnerOf(_ context.Context, contract common.Address, id *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[keyOf(contract, id)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrUnknownAsset, contract.Hex(), id)
	}
	return owner, nil
}

// TransferCustody moves an asset from one holder to another on behalf of
// the operator.
func (r *Registry) TransferCustody(ctx context.Context, contract common.Address, id *big.Int, from, to common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == nil {
		return fmt.Errorf("custody: transfer: %w: nil asset id", domain.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(contract, id)
	holder, ok := r.owners[k]
	switch {
	case !ok && r.open:
		holder = from
	case !ok:
		return fmt.Errorf("%w: %s/%s", ErrUnknownAsset, contract.Hex(), id)
	}
	if holder != from {
		return fmt.Errorf("%w: %s holds %s/%s", ErrNotHolder, holder.Hex(), contract.Hex(), id)
	}
	if !r.open && from != r.operator && !r.approvals[from][r.operator] {
		return fmt.Errorf("%w: %s for %s", ErrNotApproved, r.operator.Hex(), from.Hex())
	}
	r.owners[k] = to
	return nil
}
