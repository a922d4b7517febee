package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// ListingPrice returns the flat fee currently charged per listing.
func (l *Ledger) ListingPrice(ctx context.Context) (*big.Int, error) {
	policy, err := l.store.LoadFeePolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing price: %w", err)
	}
	return policy.ListingPrice, nil
}

// SetListingPrice replaces the listing fee. Only the administrator may call
// it; listings created before the change keep the fee they paid.
func (l *Ledger) SetListingPrice(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := l.requireAdmin(caller); err != nil {
		return fmt.Errorf("ledger: set listing price: %w", err)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: set listing price: %w: amount must be non-negative", domain.ErrInvalidArgument)
	}

	unlock, err := l.lockMutations(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	var old *big.Int
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		policy, err := l.store.LoadFeePolicy(ctx)
		if err != nil {
			return err
		}
		old = policy.ListingPrice
		policy.ListingPrice = new(big.Int).Set(amount)
		return l.store.SaveFeePolicy(ctx, policy)
	})
	if err != nil {
		return fmt.Errorf("ledger: set listing price: %w", err)
	}

	l.auditLog(ctx, "fees.listing_price", map[string]any{
		"old": domain.FormatWei(old),
		"new": domain.FormatWei(amount),
	})
	l.logger.InfoContext(ctx, "listing price updated",
		slog.String("old", domain.FormatWei(old)),
		slog.String("new", domain.FormatWei(amount)),
	)
	return nil
}

// CommissionPercent returns the share of every sale retained for the
// administrator. It never changes after the ledger is created.
func (l *Ledger) CommissionPercent() uint8 { return l.commission }

// BalanceOf returns the wei owed to owner and not yet withdrawn.
func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := l.store.Balance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance of %s: %w", owner.Hex(), err)
	}
	return bal, nil
}

// Withdraw zeroes the caller's balance and returns the amount to pay out.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address) (*big.Int, error) {
	unlock, err := l.lockMutations(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var amount *big.Int
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		bal, err := l.store.Balance(ctx, caller)
		if err != nil {
			return err
		}
		if bal.Sign() == 0 {
			return fmt.Errorf("%w: nothing to withdraw", domain.ErrInvalidArgument)
		}
		amount = bal
		return l.store.Debit(ctx, caller, bal)
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: withdraw: %w", err)
	}

	l.auditLog(ctx, "balance.withdrawn", map[string]any{
		"owner":  caller.Hex(),
		"amount": domain.FormatWei(amount),
	})
	l.logger.InfoContext(ctx, "balance withdrawn",
		slog.String("owner", caller.Hex()),
		slog.String("amount", domain.FormatWei(amount)),
	)
	return amount, nil
}
