package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// ExecuteSale settles a purchase of itemID by buyer. payment must equal the
// item's price exactly. The commission is credited to the administrator and
// the remainder to the seller; custody is released to the buyer.
func (l *Ledger) ExecuteSale(ctx context.Context, buyer common.Address, itemID uint64, assetContract common.Address, payment *big.Int) (domain.MarketItem, error) {
	if buyer == (common.Address{}) {
		return domain.MarketItem{}, fmt.Errorf("ledger: execute sale: %w: buyer is required", domain.ErrInvalidArgument)
	}
	payment = amountOrZero(payment)

	unlock, err := l.lockMutations(ctx)
	if err != nil {
		return domain.MarketItem{}, err
	}
	defer unlock()

	item, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: execute sale: item %d: %w", itemID, err)
	}
	if item.Sold() {
		return domain.MarketItem{}, fmt.Errorf("ledger: execute sale: item %d: %w", itemID, domain.ErrAlreadySold)
	}
	if assetContract != item.AssetContract {
		return domain.MarketItem{}, fmt.Errorf("ledger: execute sale: %w: asset contract %s does not match item %d",
			domain.ErrInvalidArgument, assetContract.Hex(), itemID)
	}
	if payment.Cmp(item.Price) != 0 {
		return domain.MarketItem{}, fmt.Errorf("ledger: execute sale: %w: payment %s must equal price %s",
			domain.ErrInvalidPayment, domain.FormatWei(payment), domain.FormatWei(item.Price))
	}

	split := domain.SplitCommission(item.Price, l.commission)

	if err := l.transferCustody(ctx, "execute sale", item, l.cfg.Address, buyer); err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: execute sale: %w: %w", domain.ErrCustodyTransferFailed, err)
	}

	// Custody has moved; the caller going away must not undo the record.
	ctx = context.WithoutCancel(ctx)
	soldAt := l.clock.Now()
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		if err := l.store.MarkSold(ctx, item.ID, buyer, soldAt); err != nil {
			return err
		}
		if split.Commission.Sign() > 0 {
			if err := l.store.Credit(ctx, l.cfg.Admin, split.Commission); err != nil {
				return err
			}
		}
		if split.Proceeds.Sign() > 0 {
			return l.store.Credit(ctx, item.Seller, split.Proceeds)
		}
		return nil
	})
	if err != nil {
		return domain.MarketItem{}, l.compensate(ctx, "execute sale", item, buyer, l.cfg.Address, err)
	}

	item.Custody = domain.SoldTo(buyer)
	item.SoldAt = &soldAt

	l.publish(ctx, domain.NotificationItemSold, item)
	l.auditLog(ctx, "item.sold", map[string]any{
		"item_id":    item.ID,
		"buyer":      buyer.Hex(),
		"seller":     item.Seller.Hex(),
		"price":      domain.FormatWei(item.Price),
		"commission": domain.FormatWei(split.Commission),
		"proceeds":   domain.FormatWei(split.Proceeds),
	})
	l.logger.InfoContext(ctx, "item sold",
		slog.Uint64("item_id", item.ID),
		slog.String("buyer", buyer.Hex()),
		slog.String("price", domain.FormatEther(item.Price)),
		slog.String("commission", domain.FormatEther(split.Commission)),
	)
	return item.Clone(), nil
}
