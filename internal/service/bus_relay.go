// Package service holds the ledger's outbound relays: they subscribe to
// committed notifications and forward them to the bus, to operators, and to
// whatever else wants them.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

const (
	// ItemsChannel carries live notifications between instances.
	ItemsChannel = "market:items"
	// ItemsStream keeps notifications for replay.
	ItemsStream = "stream:market:items"

	maxReplay = 500
)

// BusRelay publishes ledger notifications on the signal bus and reads them
// back.
type BusRelay struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusRelay creates a BusRelay.
func NewBusRelay(bus domain.SignalBus, logger *slog.Logger) *BusRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusRelay{bus: bus, logger: logger.With(slog.String("component", "bus_relay"))}
}

// Notify implements domain.Subscriber. The stream append is the durable
// record, so its failure is returned; a failed live publish is only logged.
func (r *BusRelay) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("bus_relay: marshal notification %s: %w", n.ID, err)
	}
	if err := r.bus.Publish(ctx, ItemsChannel, payload); err != nil {
		r.logger.WarnContext(ctx, "publish failed",
			slog.String("notification_id", n.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := r.bus.StreamAppend(ctx, ItemsStream, payload); err != nil {
		return fmt.Errorf("bus_relay: stream append: %w", err)
	}
	return nil
}

// StreamedNotification is a notification with its stream position.
type StreamedNotification struct {
	StreamID     string              `json:"stream_id"`
	Notification domain.Notification `json:"notification"`
}

// Replay returns up to limit notifications recorded after streamID ("0" for
// the beginning). Entries that fail to decode are skipped.
func (r *BusRelay) Replay(ctx context.Context, streamID string, limit int) ([]StreamedNotification, error) {
	if streamID == "" {
		streamID = "0"
	}
	if limit <= 0 || limit > maxReplay {
		limit = maxReplay
	}
	msgs, err := r.bus.StreamRead(ctx, ItemsStream, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("bus_relay: replay: %w", err)
	}
	out := make([]StreamedNotification, 0, len(msgs))
	for _, m := range msgs {
		var n domain.Notification
		if err := json.Unmarshal(m.Payload, &n); err != nil {
			r.logger.WarnContext(ctx, "skipping undecodable stream entry",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, StreamedNotification{StreamID: m.ID, Notification: n})
	}
	return out, nil
}

// Listen calls fn for every notification published on the bus by any
// instance until ctx is done.
func (r *BusRelay) Listen(ctx context.Context, fn func(domain.Notification)) error {
	payloads, err := r.bus.Subscribe(ctx, ItemsChannel)
	if err != nil {
		return fmt.Errorf("bus_relay: listen: %w", err)
	}
	for p := range payloads {
		var n domain.Notification
		if err := json.Unmarshal(p, &n); err != nil {
			r.logger.WarnContext(ctx, "dropping undecodable notification", slog.String("error", err.Error()))
			continue
		}
		fn(n)
	}
	return ctx.Err()
}

var _ domain.Subscriber = (*BusRelay)(nil)
