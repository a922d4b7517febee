package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

var (
	_ domain.LedgerStore = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
)

func (s *Store) NextEventID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "event")
}

func (s *Store) NextItemID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "item")
}

func (s *Store) nextID(ctx context.Context, name string) (uint64, error) {
	var id int64
	err := s.q(ctx).QueryRowContext(ctx,
		`UPDATE ledger_counters SET value = value + 1 WHERE name = ? RETURNING value`, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: next %s id: %w", name, err)
	}
	return uint64(id), nil
}

func (s *Store) InsertEvent(ctx context.Context, ev domain.Event) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO events (id, title, description, image_url, start_time, end_time, ticket_price, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(ev.ID), ev.Title, ev.Description, ev.ImageURL,
		toMillis(ev.StartTime), toMillis(ev.EndTime), domain.FormatWei(ev.TicketPrice),
		ev.Active, toMillis(ev.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: insert event %d: %w: duplicate id", ev.ID, domain.ErrInvalidArgument)
		}
		return fmt.Errorf("sqlite: insert event %d: %w", ev.ID, err)
	}
	return nil
}

const eventColumns = `id, title, description, image_url, start_time, end_time, ticket_price, active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (domain.Event, error) {
	var (
		ev                      domain.Event
		id, start, end, created int64
		price                   string
	)
	if err := row.Scan(&id, &ev.Title, &ev.Description, &ev.ImageURL, &start, &end, &price, &ev.Active, &created); err != nil {
		return domain.Event{}, err
	}
	amount, err := domain.ParseWei(price)
	if err != nil {
		return domain.Event{}, fmt.Errorf("ticket price: %w", err)
	}
	ev.ID = uint64(id)
	ev.TicketPrice = amount
	ev.StartTime = fromMillis(start)
	ev.EndTime = fromMillis(end)
	ev.CreatedAt = fromMillis(created)
	return ev, nil
}

func (s *Store) GetEvent(ctx context.Context, id uint64) (domain.Event, error) {
	ev, err := scanEvent(s.q(ctx).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Event{}, fmt.Errorf("sqlite: event %d: %w", id, domain.ErrNotFound)
		}
		return domain.Event{}, fmt.Errorf("sqlite: get event %d: %w", id, err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list events rows: %w", err)
	}
	return events, nil
}

func (s *Store) InsertItem(ctx context.Context, item domain.MarketItem) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO market_items (id, event_id, asset_contract, asset_id, seller, owner, price, sold, listed_at, sold_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(item.ID), int64(item.EventID), item.AssetContract.Hex(), domain.FormatWei(item.AssetID),
		item.Seller.Hex(), item.Owner().Hex(), domain.FormatWei(item.Price), item.Sold(),
		toMillis(item.ListedAt), toNullMillis(item.SoldAt),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("sqlite: insert item %d: %w: duplicate id", item.ID, domain.ErrInvalidArgument)
		case isForeignKeyViolation(err):
			return fmt.Errorf("sqlite: insert item %d: event %d: %w", item.ID, item.EventID, domain.ErrNotFound)
		}
		return fmt.Errorf("sqlite: insert item %d: %w", item.ID, err)
	}
	return nil
}

const itemColumns = `id, event_id, asset_contract, asset_id, seller, owner, price, sold, listed_at, sold_at`

func scanItem(row scanner) (domain.MarketItem, error) {
	var (
		item                    domain.MarketItem
		id, eventID, listedAt   int64
		contract, seller, owner string
		assetID, price          string
		sold                    bool
		soldAt                  sql.NullInt64
	)
	if err := row.Scan(&id, &eventID, &contract, &assetID, &seller, &owner, &price, &sold, &listedAt, &soldAt); err != nil {
		return domain.MarketItem{}, err
	}
	var err error
	if item.AssetID, err = domain.ParseWei(assetID); err != nil {
		return domain.MarketItem{}, fmt.Errorf("asset id: %w", err)
	}
	if item.Price, err = domain.ParseWei(price); err != nil {
		return domain.MarketItem{}, fmt.Errorf("price: %w", err)
	}
	item.ID = uint64(id)
	item.EventID = uint64(eventID)
	item.AssetContract = common.HexToAddress(contract)
	item.Seller = common.HexToAddress(seller)
	item.ListedAt = fromMillis(listedAt)
	item.SoldAt = fromNullMillis(soldAt)
	if sold {
		item.Custody = domain.SoldTo(common.HexToAddress(owner))
	} else {
		item.Custody = domain.InEscrow(common.HexToAddress(owner))
	}
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, id uint64) (domain.MarketItem, error) {
	item, err := scanItem(s.q(ctx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM market_items WHERE id = ?`, int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MarketItem{}, fmt.Errorf("sqlite: item %d: %w", id, domain.ErrNotFound)
		}
		return domain.MarketItem{}, fmt.Errorf("sqlite: get item %d: %w", id, err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.MarketItem, error) {
	var (
		where []string
		args  []any
	)
	switch filter.Status {
	case domain.ItemStatusUnsold:
		where = append(where, "sold = 0")
	case domain.ItemStatusSold:
		where = append(where, "sold = 1")
	}
	if filter.Seller != nil {
		where = append(where, "seller = ?")
		args = append(args, filter.Seller.Hex())
	}
	if filter.Owner != nil {
		where = append(where, "owner = ?")
		args = append(args, filter.Owner.Hex())
	}
	if filter.EventID != 0 {
		where = append(where, "event_id = ?")
		args = append(args, int64(filter.EventID))
	}

	query := `SELECT ` + itemColumns + ` FROM market_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return s.queryItems(ctx, "list items", query+" ORDER BY id", args...)
}

func (s *Store) ListSoldBefore(ctx context.Context, before time.Time) ([]domain.MarketItem, error) {
	query := `SELECT ` + itemColumns + ` FROM market_items WHERE sold = 1 AND sold_at < ? ORDER BY id`
	return s.queryItems(ctx, "list sold before", query, toMillis(before))
}

func (s *Store) queryItems(ctx context.Context, op, query string, args ...any) ([]domain.MarketItem, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	items := []domain.MarketItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %s: scan: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s rows: %w", op, err)
	}
	return items, nil
}

func (s *Store) MarkSold(ctx context.Context, id uint64, buyer common.Address, soldAt time.Time) error {
	db := s.q(ctx)
	res, err := db.ExecContext(ctx,
		`UPDATE market_items SET sold = 1, owner = ?, sold_at = ? WHERE id = ? AND sold = 0`,
		buyer.Hex(), toMillis(soldAt), int64(id),
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark sold %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM market_items WHERE id = ?`, int64(id)).Scan(&count); err != nil {
		return fmt.Errorf("sqlite: mark sold %d: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("sqlite: mark sold %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("sqlite: mark sold %d: %w", id, domain.ErrAlreadySold)
}

func (s *Store) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var amount string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT amount FROM balances WHERE owner = ?`, owner.Hex()).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("sqlite: balance %s: %w", owner.Hex(), err)
	}
	return domain.ParseWei(amount)
}

// Credit and Debit read, adjust and write the balance in Go; SQLite has no
// 256-bit integer type.
func (s *Store) Credit(ctx context.Context, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("sqlite: credit %s: %w: amount must be non-negative", owner.Hex(), domain.ErrInvalidArgument)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		bal, err := s.Balance(ctx, owner)
		if err != nil {
			return err
		}
		return s.putBalance(ctx, owner, bal.Add(bal, amount))
	})
}

func (s *Store) Debit(ctx context.Context, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("sqlite: debit %s: %w: amount must be non-negative", owner.Hex(), domain.ErrInvalidArgument)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		bal, err := s.Balance(ctx, owner)
		if err != nil {
			return err
		}
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("sqlite: debit %s: %w", owner.Hex(), domain.ErrInsufficientBalance)
		}
		return s.putBalance(ctx, owner, bal.Sub(bal, amount))
	})
}

func (s *Store) putBalance(ctx context.Context, owner common.Address, amount *big.Int) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO balances (owner, amount) VALUES (?, ?)
		ON CONFLICT (owner) DO UPDATE SET amount = excluded.amount`,
		owner.Hex(), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put balance %s: %w", owner.Hex(), err)
	}
	return nil
}

func (s *Store) LoadFeePolicy(ctx context.Context) (domain.FeePolicy, error) {
	var (
		price   string
		percent int
	)
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT listing_price, commission_percent FROM fee_policy WHERE id = 1`,
	).Scan(&price, &percent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FeePolicy{}, fmt.Errorf("sqlite: fee policy: %w", domain.ErrNotFound)
		}
		return domain.FeePolicy{}, fmt.Errorf("sqlite: load fee policy: %w", err)
	}
	amount, err := domain.ParseWei(price)
	if err != nil {
		return domain.FeePolicy{}, fmt.Errorf("sqlite: load fee policy: %w", err)
	}
	return domain.FeePolicy{ListingPrice: amount, CommissionPercent: uint8(percent)}, nil
}

func (s *Store) SaveFeePolicy(ctx context.Context, policy domain.FeePolicy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("sqlite: save fee policy: %w", err)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO fee_policy (id, listing_price, commission_percent, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			listing_price = excluded.listing_price,
			commission_percent = excluded.commission_percent,
			updated_at = excluded.updated_at`,
		policy.ListingPrice.String(), int(policy.CommissionPercent), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save fee policy: %w", err)
	}
	return nil
}

// Log appends an audit entry with detail encoded as JSON text.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, toMillis(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, toMillis(*opts.Until))
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries rows: %w", err)
	}
	return entries, nil
}
