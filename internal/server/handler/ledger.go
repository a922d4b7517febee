package handler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
	"github.com/alanyoungcy/eventmarket/internal/ledger"
)

// Ledger is what the handlers need from *ledger.Ledger.
type Ledger interface {
	Admin() common.Address
	LedgerAddress() common.Address

	RegisterEvent(ctx context.Context, caller common.Address, in domain.NewEvent) (domain.Event, error)
	GetEvent(ctx context.Context, id uint64) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)

	ListingPrice(ctx context.Context) (*big.Int, error)
	SetListingPrice(ctx context.Context, caller common.Address, amount *big.Int) error
	CommissionPercent() uint8
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Withdraw(ctx context.Context, caller common.Address) (*big.Int, error)

	CreateListing(ctx context.Context, seller common.Address, in ledger.NewListing, payment *big.Int) (domain.MarketItem, error)
	ExecuteSale(ctx context.Context, buyer common.Address, itemID uint64, assetContract common.Address, payment *big.Int) (domain.MarketItem, error)

	GetItem(ctx context.Context, id uint64) (domain.MarketItem, error)
	FetchUnsoldItems(ctx context.Context) ([]domain.MarketItem, error)
	FetchItemsCreatedBy(ctx context.Context, seller common.Address) ([]domain.MarketItem, error)
	FetchItemsOwnedBy(ctx context.Context, owner common.Address) ([]domain.MarketItem, error)
	FetchItemsByEvent(ctx context.Context, eventID uint64) ([]domain.MarketItem, error)
}

var _ Ledger = (*ledger.Ledger)(nil)
