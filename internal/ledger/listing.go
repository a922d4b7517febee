package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// NewListing is the seller's request to put an asset up for sale.
type NewListing struct {
	EventID       uint64
	AssetContract common.Address
	AssetID       *big.Int
	Price         *big.Int
}

// CreateListing moves the asset into escrow and records it for sale at
// in.Price. payment must equal the current listing price exactly; it is
// credited to the administrator.
func (l *Ledger) CreateListing(ctx context.Context, seller common.Address, in NewListing, payment *big.Int) (domain.MarketItem, error) {
	if seller == (common.Address{}) {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: %w: seller is required", domain.ErrInvalidArgument)
	}
	if in.AssetContract == (common.Address{}) {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: %w: asset contract is required", domain.ErrInvalidArgument)
	}
	if in.AssetID == nil || in.AssetID.Sign() < 0 {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: %w: asset id must be non-negative", domain.ErrInvalidArgument)
	}
	payment = amountOrZero(payment)

	unlock, err := l.lockMutations(ctx)
	if err != nil {
		return domain.MarketItem{}, err
	}
	defer unlock()

	if _, err := l.store.GetEvent(ctx, in.EventID); err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: event %d: %w", in.EventID, err)
	}
	policy, err := l.store.LoadFeePolicy(ctx)
	if err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: %w", err)
	}
	if payment.Cmp(policy.ListingPrice) != 0 {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: %w: payment %s must equal listing price %s",
			domain.ErrInvalidPayment, domain.FormatWei(payment), domain.FormatWei(policy.ListingPrice))
	}
	if in.Price == nil || in.Price.Sign() <= 0 {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: %w: price must be greater than zero", domain.ErrInvalidArgument)
	}

	item := domain.MarketItem{
		EventID:       in.EventID,
		AssetContract: in.AssetContract,
		AssetID:       new(big.Int).Set(in.AssetID),
		Seller:        seller,
		Price:         new(big.Int).Set(in.Price),
		Custody:       domain.InEscrow(l.cfg.Address),
	}

	if err := l.transferCustody(ctx, "create listing", item, seller, l.cfg.Address); err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: create listing: %w: %w", domain.ErrCustodyTransferFailed, err)
	}

	// Custody has moved; the caller going away must not undo the record.
	ctx = context.WithoutCancel(ctx)
	item.ListedAt = l.clock.Now()
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		id, err := l.store.NextItemID(ctx)
		if err != nil {
			return err
		}
		item.ID = id
		if err := l.store.InsertItem(ctx, item); err != nil {
			return err
		}
		if payment.Sign() > 0 {
			return l.store.Credit(ctx, l.cfg.Admin, payment)
		}
		return nil
	})
	if err != nil {
		return domain.MarketItem{}, l.compensate(ctx, "create listing", item, l.cfg.Address, seller, err)
	}

	l.publish(ctx, domain.NotificationListingCreated, item)
	l.auditLog(ctx, "listing.created", map[string]any{
		"item_id":        item.ID,
		"event_id":       item.EventID,
		"asset_contract": item.AssetContract.Hex(),
		"asset_id":       domain.FormatWei(item.AssetID),
		"seller":         seller.Hex(),
		"price":          domain.FormatWei(item.Price),
		"listing_fee":    domain.FormatWei(payment),
	})
	l.logger.InfoContext(ctx, "item listed",
		slog.Uint64("item_id", item.ID),
		slog.Uint64("event_id", item.EventID),
		slog.String("seller", seller.Hex()),
		slog.String("price", domain.FormatWei(item.Price)),
	)
	return item.Clone(), nil
}
