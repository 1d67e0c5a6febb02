package lots

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxStore exposes lot mutations scoped to an open unit of work. Both the
// exchange engine and void flow operate through it so lot rows are only
// ever touched under the till's lock.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// Add appends a new lot. Lots are never merged; each keeps its cost layer.
func (s *TxStore) Add(ctx context.Context, lot Lot) (Lot, error) {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.AcquiredAt.IsZero() {
		lot.AcquiredAt = time.Now().UTC()
	}
	lot.Available = lot.Amount.Sign() > 0
	_, err := s.tx.Exec(ctx, `
		INSERT INTO lots (id, till_id, currency_code, amount, unit_cost, acquired_at, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lot.ID, lot.TillID, lot.Currency, lot.Amount.String(), lot.UnitCost.String(),
		lot.AcquiredAt, lot.Available)
	if err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// ConsumeFIFO locks the available lots for (till, currency) in acquisition
// order, drains them against amount, and persists the updated layers.
// The rows stay locked until the surrounding transaction commits, so two
// concurrent sells cannot drain the same units.
func (s *TxStore) ConsumeFIFO(ctx context.Context, tillID int64, currency string, amount decimal.Decimal) (Consumption, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT id, till_id, currency_code, amount::text, unit_cost::text, acquired_at, available
		FROM lots
		WHERE till_id = $1 AND currency_code = $2 AND available
		ORDER BY acquired_at, id
		FOR UPDATE`, tillID, currency)
	if err != nil {
		return Consumption{}, err
	}
	available, err := collectLots(rows)
	if err != nil {
		return Consumption{}, err
	}

	consumption := Consume(available, amount)
	for _, lot := range consumption.Touched {
		_, err := s.tx.Exec(ctx,
			`UPDATE lots SET amount = $2, available = $3 WHERE id = $1`,
			lot.ID, lot.Amount.String(), lot.Available)
		if err != nil {
			return Consumption{}, err
		}
	}
	return consumption, nil
}

// Repository provides pool-backed read access for reporting.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AvailableTotal sums the remaining amount across available lots.
func (r *Repository) AvailableTotal(ctx context.Context, tillID int64, currency string) (decimal.Decimal, error) {
	var total string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM lots WHERE till_id = $1 AND currency_code = $2 AND available`,
		tillID, currency).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}

// ListByTill returns every lot a till has acquired, consumed ones included.
func (r *Repository) ListByTill(ctx context.Context, tillID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, till_id, currency_code, amount::text, unit_cost::text, acquired_at, available
		FROM lots WHERE till_id = $1
		ORDER BY acquired_at, id`, tillID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	var result []Lot
	for rows.Next() {
		var (
			lot      Lot
			amount   string
			unitCost string
		)
		if err := rows.Scan(&lot.ID, &lot.TillID, &lot.Currency, &amount, &unitCost, &lot.AcquiredAt, &lot.Available); err != nil {
			return nil, err
		}
		var err error
		if lot.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if lot.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
			return nil, err
		}
		result = append(result, lot)
	}
	return result, rows.Err()
}
