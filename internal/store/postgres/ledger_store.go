package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

var _ domain.LedgerStore = (*LedgerStore)(nil)

// LedgerStore implements domain.LedgerStore. Wei amounts live in
// NUMERIC(78,0) columns and cross the wire as decimal text.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// WithTx runs fn in a transaction; nested calls join the outer one.
func (s *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, fn)
}

func (s *LedgerStore) NextEventID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "event")
}

func (s *LedgerStore) NextItemID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "item")
}

// nextID bumps a counter row. The row lock is held until the surrounding
// transaction ends, and a rollback returns the value.
func (s *LedgerStore) nextID(ctx context.Context, name string) (uint64, error) {
	const query = `UPDATE ledger_counters SET value = value + 1 WHERE name = $1 RETURNING value`
	var id int64
	if err := dbFor(ctx, s.pool).QueryRow(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next %s id: %w", name, err)
	}
	return uint64(id), nil
}

func (s *LedgerStore) InsertEvent(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO events (id, title, description, image_url, start_time, end_time, ticket_price, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`
	_, err := dbFor(ctx, s.pool).Exec(ctx, query,
		int64(ev.ID), ev.Title, ev.Description, ev.ImageURL,
		ev.StartTime, ev.EndTime, domain.FormatWei(ev.TicketPrice), ev.Active, ev.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert event %d: %w: duplicate id", ev.ID, domain.ErrInvalidArgument)
		}
		return fmt.Errorf("postgres: insert event %d: %w", ev.ID, err)
	}
	return nil
}

const eventColumns = `id, title, description, image_url, start_time, end_time, ticket_price::text, active, created_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev    domain.Event
		id    int64
		price string
	)
	if err := row.Scan(&id, &ev.Title, &ev.Description, &ev.ImageURL,
		&ev.StartTime, &ev.EndTime, &price, &ev.Active, &ev.CreatedAt); err != nil {
		return domain.Event{}, err
	}
	amount, err := domain.ParseWei(price)
	if err != nil {
		return domain.Event{}, fmt.Errorf("ticket price: %w", err)
	}
	ev.ID = uint64(id)
	ev.TicketPrice = amount
	ev.StartTime = ev.StartTime.UTC()
	ev.EndTime = ev.EndTime.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

func (s *LedgerStore) GetEvent(ctx context.Context, id uint64) (domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	ev, err := scanEvent(dbFor(ctx, s.pool).QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, fmt.Errorf("postgres: event %d: %w", id, domain.ErrNotFound)
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %d: %w", id, err)
	}
	return ev, nil
}

func (s *LedgerStore) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := dbFor(ctx, s.pool).Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

func (s *LedgerStore) InsertItem(ctx context.Context, item domain.MarketItem) error {
	const query = `
		INSERT INTO market_items (id, event_id, asset_contract, asset_id, seller, owner, price, sold, listed_at, sold_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric, $8, $9, $10)`
	_, err := dbFor(ctx, s.pool).Exec(ctx, query,
		int64(item.ID), int64(item.EventID), item.AssetContract.Hex(), domain.FormatWei(item.AssetID),
		item.Seller.Hex(), item.Owner().Hex(), domain.FormatWei(item.Price), item.Sold(),
		item.ListedAt, item.SoldAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("postgres: insert item %d: %w: duplicate id", item.ID, domain.ErrInvalidArgument)
		case isForeignKeyViolation(err):
			return fmt.Errorf("postgres: insert item %d: event %d: %w", item.ID, item.EventID, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: insert item %d: %w", item.ID, err)
	}
	return nil
}

const itemColumns = `id, event_id, asset_contract, asset_id::text, seller, owner, price::text, sold, listed_at, sold_at`

func scanItem(row pgx.Row) (domain.MarketItem, error) {
	var (
		item                    domain.MarketItem
		id, eventID             int64
		contract, seller, owner string
		assetID, price          string
		sold                    bool
		soldAt                  *time.Time
	)
	if err := row.Scan(&id, &eventID, &contract, &assetID, &seller, &owner, &price, &sold, &item.ListedAt, &soldAt); err != nil {
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
	item.ListedAt = item.ListedAt.UTC()
	if sold {
		item.Custody = domain.SoldTo(common.HexToAddress(owner))
	} else {
		item.Custody = domain.InEscrow(common.HexToAddress(owner))
	}
	if soldAt != nil {
		t := soldAt.UTC()
		item.SoldAt = &t
	}
	return item, nil
}

func (s *LedgerStore) GetItem(ctx context.Context, id uint64) (domain.MarketItem, error) {
	query := `SELECT ` + itemColumns + ` FROM market_items WHERE id = $1`
	item, err := scanItem(dbFor(ctx, s.pool).QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketItem{}, fmt.Errorf("postgres: item %d: %w", id, domain.ErrNotFound)
		}
		return domain.MarketItem{}, fmt.Errorf("postgres: get item %d: %w", id, err)
	}
	return item, nil
}

func (s *LedgerStore) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.MarketItem, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	switch filter.Status {
	case domain.ItemStatusUnsold:
		where = append(where, "NOT sold")
	case domain.ItemStatusSold:
		where = append(where, "sold")
	}
	if filter.Seller != nil {
		add("seller = $%d", filter.Seller.Hex())
	}
	if filter.Owner != nil {
		add("owner = $%d", filter.Owner.Hex())
	}
	if filter.EventID != 0 {
		add("event_id = $%d", int64(filter.EventID))
	}

	query := `SELECT ` + itemColumns + ` FROM market_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	return s.queryItems(ctx, "list items", query, args...)
}

func (s *LedgerStore) ListSoldBefore(ctx context.Context, before time.Time) ([]domain.MarketItem, error) {
	query := `SELECT ` + itemColumns + ` FROM market_items WHERE sold AND sold_at < $1 ORDER BY id`
	return s.queryItems(ctx, "list sold before", query, before)
}

func (s *LedgerStore) queryItems(ctx context.Context, op, query string, args ...any) ([]domain.MarketItem, error) {
	rows, err := dbFor(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	items := []domain.MarketItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return items, nil
}

// MarkSold flips an unsold item to sold. The NOT sold guard makes a racing
// second sale a no-op that is then reported as ErrAlreadySold.
func (s *LedgerStore) MarkSold(ctx context.Context, id uint64, buyer common.Address, soldAt time.Time) error {
	db := dbFor(ctx, s.pool)
	const query = `UPDATE market_items SET sold = TRUE, owner = $2, sold_at = $3 WHERE id = $1 AND NOT sold`
	tag, err := db.Exec(ctx, query, int64(id), buyer.Hex(), soldAt)
	if err != nil {
		return fmt.Errorf("postgres: mark sold %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM market_items WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: mark sold %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: mark sold %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: mark sold %d: %w", id, domain.ErrAlreadySold)
}

func (s *LedgerStore) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var amount string
	err := dbFor(ctx, s.pool).QueryRow(ctx, `SELECT amount::text FROM balances WHERE owner = $1`, owner.Hex()).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("postgres: balance %s: %w", owner.Hex(), err)
	}
	return domain.ParseWei(amount)
}

func (s *LedgerStore) Credit(ctx context.Context, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("postgres: credit %s: %w: amount must be non-negative", owner.Hex(), domain.ErrInvalidArgument)
	}
	const query = `
		INSERT INTO balances (owner, amount) VALUES ($1, $2::numeric)
		ON CONFLICT (owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`
	if _, err := dbFor(ctx, s.pool).Exec(ctx, query, owner.Hex(), amount.String()); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", owner.Hex(), err)
	}
	return nil
}

func (s *LedgerStore) Debit(ctx context.Context, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("postgres: debit %s: %w: amount must be non-negative", owner.Hex(), domain.ErrInvalidArgument)
	}
	const query = `UPDATE balances SET amount = amount - $2::numeric WHERE owner = $1 AND amount >= $2::numeric`
	tag, err := dbFor(ctx, s.pool).Exec(ctx, query, owner.Hex(), amount.String())
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", owner.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s: %w", owner.Hex(), domain.ErrInsufficientBalance)
	}
	return nil
}

func (s *LedgerStore) LoadFeePolicy(ctx context.Context) (domain.FeePolicy, error) {
	var (
		price   string
		percent int16
	)
	err := dbFor(ctx, s.pool).QueryRow(ctx,
		`SELECT listing_price::text, commission_percent FROM fee_policy WHERE id = 1`,
	).Scan(&price, &percent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FeePolicy{}, fmt.Errorf("postgres: fee policy: %w", domain.ErrNotFound)
		}
		return domain.FeePolicy{}, fmt.Errorf("postgres: load fee policy: %w", err)
	}
	amount, err := domain.ParseWei(price)
	if err != nil {
		return domain.FeePolicy{}, fmt.Errorf("postgres: load fee policy: %w", err)
	}
	return domain.FeePolicy{ListingPrice: amount, CommissionPercent: uint8(percent)}, nil
}

func (s *LedgerStore) SaveFeePolicy(ctx context.Context, policy domain.FeePolicy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("postgres: save fee policy: %w", err)
	}
	const query = `
		INSERT INTO fee_policy (id, listing_price, commission_percent, updated_at)
		VALUES (1, $1::numeric, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET listing_price = EXCLUDED.listing_price,
		    commission_percent = EXCLUDED.commission_percent,
		    updated_at = EXCLUDED.updated_at`
	if _, err := dbFor(ctx, s.pool).Exec(ctx, query, policy.ListingPrice.String(), int16(policy.CommissionPercent)); err != nil {
		return fmt.Errorf("postgres: save fee policy: %w", err)
	}
	return nil
}
