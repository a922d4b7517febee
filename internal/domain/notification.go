package domain

import (
	"context"
	"time"
)

// NotificationKind names the ledger transition a notification reports.
type NotificationKind string

const (
	NotificationListingCreated NotificationKind = "listing_created"
	NotificationItemSold       NotificationKind = "item_sold"
)

// Notification is emitted after a listing or sale commits. Item is the full
// snapshot of the market item as of that commit.
type Notification struct {
	ID   string           `json:"id"`
	Kind NotificationKind `json:"kind"`
	Item MarketItem       `json:"item"`
	At   time.Time        `json:"at"`
}

// Subscriber receives committed ledger notifications in commit order.
type Subscriber interface {
	Notify(ctx context.Context, n Notification) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, n Notification) error

func (f SubscriberFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
