package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// GetItem returns a single market item or ErrNotFound.
func (l *Ledger) GetItem(ctx context.Context, id uint64) (domain.MarketItem, error) {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: get item %d: %w", id, err)
	}
	return item, nil
}

// FetchUnsoldItems returns every item still in escrow, ordered by id.
func (l *Ledger) FetchUnsoldItems(ctx context.Context) ([]domain.MarketItem, error) {
	return l.listItems(ctx, "fetch unsold items", domain.ItemFilter{Status: domain.ItemStatusUnsold})
}

// FetchItemsCreatedBy returns every item listed by seller, sold or not.
func (l *Ledger) FetchItemsCreatedBy(ctx context.Context, seller common.Address) ([]domain.MarketItem, error) {
	return l.listItems(ctx, "fetch items created by", domain.ItemFilter{Seller: &seller})
}

// FetchItemsOwnedBy returns the items owner has bought.
func (l *Ledger) FetchItemsOwnedBy(ctx context.Context, owner common.Address) ([]domain.MarketItem, error) {
	return l.listItems(ctx, "fetch items owned by", domain.ItemFilter{Status: domain.ItemStatusSold, Owner: &owner})
}

// FetchItemsByEvent returns every item listed against eventID. An unknown
// event yields an empty result.
func (l *Ledger) FetchItemsByEvent(ctx context.Context, eventID uint64) ([]domain.MarketItem, error) {
	if eventID == 0 {
		return []domain.MarketItem{}, nil
	}
	return l.listItems(ctx, "fetch items by event", domain.ItemFilter{EventID: eventID})
}

func (l *Ledger) listItems(ctx context.Context, op string, filter domain.ItemFilter) ([]domain.MarketItem, error) {
	items, err := l.store.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", op, err)
	}
	if items == nil {
		items = []domain.MarketItem{}
	}
	return items, nil
}
