package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type custodyState uint8

const (
	custodyUnset custodyState = iota
	custodyInEscrow
	custodySold
)

// Custody records who holds a listed asset. It is either held in escrow by
// the ledger or released to the buyer; there is no other state.
type Custody struct {
	state  custodyState
	holder common.Address
}

// InEscrow is the custody of an unsold item held by the ledger.
func InEscrow(ledger common.Address) Custody {
	return Custody{state: custodyInEscrow, holder: ledger}
}

// SoldTo is the custody of an item released to its buyer.
func SoldTo(buyer common.Address) Custody {
	return Custody{state: custodySold, holder: buyer}
}

// Sold reports whether custody has been released to a buyer.
func (c Custody) Sold() bool { return c.state == custodySold }

// Holder is the identity currently holding the asset.
func (c Custody) Holder() common.Address { return c.holder }

// Valid reports whether the custody was built by InEscrow or SoldTo.
func (c Custody) Valid() bool { return c.state != custodyUnset }

func (c Custody) String() string {
	switch c.state {
	case custodyInEscrow:
		return "in_escrow(" + c.holder.Hex() + ")"
	case custodySold:
		return "sold(" + c.holder.Hex() + ")"
	default:
		return "unset"
	}
}

// MarketItem is an asset listed for sale against an event.
type MarketItem struct {
	ID            uint64
	EventID       uint64
	AssetContract common.Address
	AssetID       *big.Int
	Seller        common.Address
	Price         *big.Int
	Custody       Custody
	ListedAt      time.Time
	SoldAt        *time.Time
}

// Sold reports whether the item has been purchased.
func (m MarketItem) Sold() bool { return m.Custody.Sold() }

// Owner is the current custody holder: the ledger while unsold, the buyer after.
func (m MarketItem) Owner() common.Address { return m.Custody.Holder() }

// Clone returns a deep copy of the item.
func (m MarketItem) Clone() MarketItem {
	out := m
	out.AssetID = cloneAmount(m.AssetID)
	out.Price = cloneAmount(m.Price)
	if m.SoldAt != nil {
		t := *m.SoldAt
		out.SoldAt = &t
	}
	return out
}

// itemJSON is the flattened wire form consumed by indexers and UIs.
type itemJSON struct {
	ID            uint64         `json:"item_id"`
	EventID       uint64         `json:"event_id"`
	AssetContract common.Address `json:"asset_contract"`
	AssetID       string         `json:"asset_id"`
	Seller        common.Address `json:"seller"`
	Owner         common.Address `json:"owner"`
	Price         string         `json:"price"`
	Sold          bool           `json:"sold"`
	ListedAt      time.Time      `json:"listed_at"`
	SoldAt        *time.Time     `json:"sold_at,omitempty"`
}

func (m MarketItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemJSON{
		ID:            m.ID,
		EventID:       m.EventID,
		AssetContract: m.AssetContract,
		AssetID:       FormatWei(m.AssetID),
		Seller:        m.Seller,
		Owner:         m.Owner(),
		Price:         FormatWei(m.Price),
		Sold:          m.Sold(),
		ListedAt:      m.ListedAt,
		SoldAt:        m.SoldAt,
	})
}

func (m *MarketItem) UnmarshalJSON(data []byte) error {
	var v itemJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	assetID, err := ParseWei(v.AssetID)
	if err != nil {
		return fmt.Errorf("item %d: asset_id: %w", v.ID, err)
	}
	price, err := ParseWei(v.Price)
	if err != nil {
		return fmt.Errorf("item %d: price: %w", v.ID, err)
	}
	custody := InEscrow(v.Owner)
	if v.Sold {
		custody = SoldTo(v.Owner)
	}
	*m = MarketItem{
		ID:            v.ID,
		EventID:       v.EventID,
		AssetContract: v.AssetContract,
		AssetID:       assetID,
		Seller:        v.Seller,
		Price:         price,
		Custody:       custody,
		ListedAt:      v.ListedAt,
		SoldAt:        v.SoldAt,
	}
	return nil
}

// ItemStatus selects items by sale state.
type ItemStatus int

const (
	ItemStatusAny ItemStatus = iota
	ItemStatusUnsold
	ItemStatusSold
)

// ItemFilter is the predicate behind every item query. Zero fields match
// everything; results are always ordered by item id ascending.
type ItemFilter struct {
	Status  ItemStatus
	Seller  *common.Address
	Owner   *common.Address
	EventID uint64
}

// Match reports whether the item satisfies the filter.
func (f ItemFilter) Match(m MarketItem) bool {
	switch f.Status {
	case ItemStatusUnsold:
		if m.Sold() {
			return false
		}
	case ItemStatusSold:
		if !m.Sold() {
			return false
		}
	}
	if f.Seller != nil && m.Seller != *f.Seller {
		return false
	}
	if f.Owner != nil && m.Owner() != *f.Owner {
		return false
	}
	if f.EventID != 0 && m.EventID != f.EventID {
		return false
	}
	return true
}
