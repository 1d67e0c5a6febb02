package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/lots"
	"github.com/cambix/cambix/internal/platform/db"
	"github.com/cambix/cambix/internal/shared"
	"github.com/cambix/cambix/internal/till"
)

// Repository persists transactions and composes the till and lot stores so
// the engine mutates all three concerns under one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside one unit of work.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{
			TxStore:  till.NewTxStore(tx),
			lotStore: lots.NewTxStore(tx),
			tx:       tx,
		})
	})
}

const transactionColumns = `id, till_id, tx_type, currency_code, amount::text, rate::text,
	home_total::text, realized_profit::text, customer, operator_id, status, created_at`

// GetTransaction loads one transaction without locking.
func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("%w: transaction %s", shared.ErrNotFound, id)
	}
	return t, err
}

// ListByTill returns the till's transactions, newest first.
func (r *Repository) ListByTill(ctx context.Context, tillID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE till_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, tillID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// txStore implements TxRepository by promoting the till store's methods and
// delegating lot work to the lot store, all sharing one pgx.Tx.
type txStore struct {
	*till.TxStore
	lotStore *lots.TxStore
	tx       pgx.Tx
}

func (s *txStore) AddLot(ctx context.Context, lot lots.Lot) (lots.Lot, error) {
	return s.lotStore.Add(ctx, lot)
}

func (s *txStore) ConsumeFIFO(ctx context.Context, tillID int64, currency string, amount decimal.Decimal) (lots.Consumption, error) {
	return s.lotStore.ConsumeFIFO(ctx, tillID, currency, amount)
}

func (s *txStore) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	row := s.tx.QueryRow(ctx, `
		INSERT INTO transactions
			(id, till_id, tx_type, currency_code, amount, rate, home_total,
			 realized_profit, customer, operator_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING `+transactionColumns,
		t.ID, t.TillID, t.Type, t.Currency, t.Amount.String(), t.Rate.String(),
		t.HomeTotal.String(), decimalPtr(t.RealizedProfit), t.Customer, t.OperatorID, t.Status)
	return scanTransaction(row)
}

func (s *txStore) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := s.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("%w: transaction %s", shared.ErrNotFound, id)
	}
	return t, err
}

func (s *txStore) SetTransactionStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.tx.Exec(ctx,
		`UPDATE transactions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s", shared.ErrNotFound, id)
	}
	return nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t      Transaction
		amount string
		rate   string
		total  string
		profit *string
	)
	if err := row.Scan(&t.ID, &t.TillID, &t.Type, &t.Currency, &amount, &rate,
		&total, &profit, &t.Customer, &t.OperatorID, &t.Status, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, err
	}
	if t.Rate, err = decimal.NewFromString(rate); err != nil {
		return Transaction{}, err
	}
	if t.HomeTotal, err = decimal.NewFromString(total); err != nil {
		return Transaction{}, err
	}
	if profit != nil {
		d, err := decimal.NewFromString(*profit)
		if err != nil {
			return Transaction{}, err
		}
		t.RealizedProfit = &d
	}
	return t, nil
}

func decimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
