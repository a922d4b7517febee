package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// RegisterEvent records a new event. Only the administrator may call it.
func (l *Ledger) RegisterEvent(ctx context.Context, caller common.Address, in domain.NewEvent) (domain.Event, error) {
	if err := l.requireAdmin(caller); err != nil {
		return domain.Event{}, fmt.Errorf("ledger: register event: %w", err)
	}
	if err := in.Validate(); err != nil {
		return domain.Event{}, fmt.Errorf("ledger: register event: %w", err)
	}

	unlock, err := l.lockMutations(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer unlock()

	ev := domain.Event{
		Title:       in.Title,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		TicketPrice: new(big.Int).Set(in.TicketPrice),
		Active:      true,
		CreatedAt:   l.clock.Now(),
	}
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		id, err := l.store.NextEventID(ctx)
		if err != nil {
			return err
		}
		ev.ID = id
		return l.store.InsertEvent(ctx, ev)
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger: register event: %w", err)
	}

	if l.events != nil {
		if err := l.events.Set(ctx, ev); err != nil {
			l.logger.WarnContext(ctx, "failed to cache event",
				slog.Uint64("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	l.auditLog(ctx, "event.registered", map[string]any{
		"event_id":     ev.ID,
		"title":        ev.Title,
		"ticket_price": domain.FormatWei(ev.TicketPrice),
	})
	l.logger.InfoContext(ctx, "event registered",
		slog.Uint64("event_id", ev.ID),
		slog.String("title", ev.Title),
	)
	return ev, nil
}

// GetEvent returns the event with the given id or ErrNotFound.
func (l *Ledger) GetEvent(ctx context.Context, id uint64) (domain.Event, error) {
	if id == 0 {
		return domain.Event{}, fmt.Errorf("ledger: get event %d: %w", id, domain.ErrNotFound)
	}
	if l.events != nil {
		ev, err := l.events.Get(ctx, id)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.WarnContext(ctx, "event cache read failed",
				slog.Uint64("event_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	ev, err := l.store.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger: get event %d: %w", id, err)
	}
	if l.events != nil {
		if err := l.events.Set(ctx, ev); err != nil {
			l.logger.WarnContext(ctx, "failed to cache event",
				slog.Uint64("event_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return ev, nil
}

// ListEvents returns every registered event ordered by id.
func (l *Ledger) ListEvents(ctx context.Context) ([]domain.Event, error) {
	events, err := l.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list events: %w", err)
	}
	return events, nil
}
