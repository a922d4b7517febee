package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// Alerter is the part of notify.Notifier the relay uses.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AlertRelay turns ledger notifications into operator alerts.
type AlertRelay struct {
	alerter    Alerter
	commission uint8
	logger     *slog.Logger
}

// NewAlertRelay creates an AlertRelay. commission is used to show the split
// on sale alerts.
func NewAlertRelay(alerter Alerter, commission uint8, logger *slog.Logger) *AlertRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertRelay{
		alerter:    alerter,
		commission: commission,
		logger:     logger.With(slog.String("component", "alert_relay")),
	}
}

// Notify implements domain.Subscriber. Alert delivery failures are logged and
// not reported to the ledger.
func (r *AlertRelay) Notify(ctx context.Context, n domain.Notification) error {
	title, message := r.render(n)
	if err := r.alerter.Notify(ctx, string(n.Kind), title, message); err != nil {
		r.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("kind", string(n.Kind)),
			slog.Uint64("item_id", n.Item.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (r *AlertRelay) render(n domain.Notification) (string, string) {
	item := n.Item
	switch n.Kind {
	case domain.NotificationItemSold:
		split := domain.SplitCommission(item.Price, r.commission)
		return fmt.Sprintf("Item #%d sold", item.ID), fmt.Sprintf(
			"Event %d, token %s of %s\nBuyer %s paid %s ETH\nSeller %s receives %s ETH, commission %s ETH",
			item.EventID, item.AssetID, item.AssetContract.Hex(),
			item.Owner().Hex(), domain.FormatEther(item.Price),
			item.Seller.Hex(), domain.FormatEther(split.Proceeds), domain.FormatEther(split.Commission),
		)
	case domain.NotificationListingCreated:
		return fmt.Sprintf("Item #%d listed", item.ID), fmt.Sprintf(
			"Event %d, token %s of %s\nSeller %s asks %s ETH",
			item.EventID, item.AssetID, item.AssetContract.Hex(),
			item.Seller.Hex(), domain.FormatEther(item.Price),
		)
	default:
		return fmt.Sprintf("Ledger %s", n.Kind), fmt.Sprintf("Item #%d", item.ID)
	}
}

var _ domain.Subscriber = (*AlertRelay)(nil)
