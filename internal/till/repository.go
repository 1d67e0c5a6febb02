package till

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/platform/db"
	"github.com/cambix/cambix/internal/shared"
)

// Repository persists tills, balances and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the service needs. The
// exchange engine shares the same implementation, so every multi-step
// mutation runs under one till lock.
type TxRepository interface {
	InsertTill(ctx context.Context, operatorID int64) (Till, error)
	LockOpenTill(ctx context.Context, operatorID int64) (Till, error)
	LockTillByID(ctx context.Context, tillID int64) (Till, error)
	CloseTill(ctx context.Context, tillID, closedBy int64) (Till, error)
	SeedBalance(ctx context.Context, tillID int64, currency string, amount decimal.Decimal) error
	GetBalanceForUpdate(ctx context.Context, tillID int64, currency string) (Balance, error)
	ApplyDelta(ctx context.Context, tillID int64, currency string, delta decimal.Decimal) (Balance, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	AddProfit(ctx context.Context, tillID int64, profit decimal.Decimal) error
	CountVoidRequests(ctx context.Context, tillID int64) (int, error)
}

// WithTx executes the callback inside one unit of work.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const tillColumns = `id, operator_id, state, opened_at, closed_at, closed_by, accumulated_profit::text`

// CurrentOpen finds the operator's open till without locking it.
func (r *Repository) CurrentOpen(ctx context.Context, operatorID int64) (Till, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tillColumns+` FROM tills WHERE operator_id = $1 AND state = 'OPEN'`, operatorID)
	t, err := scanTill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Till{}, shared.ErrNoOpenTill
	}
	return t, err
}

// GetByID loads a till regardless of state.
func (r *Repository) GetByID(ctx context.Context, tillID int64) (Till, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tillColumns+` FROM tills WHERE id = $1`, tillID)
	t, err := scanTill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Till{}, fmt.Errorf("%w: till %d", shared.ErrNotFound, tillID)
	}
	return t, err
}

// ListOpen returns every open till, used by the snapshot warmup job.
func (r *Repository) ListOpen(ctx context.Context) ([]Till, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tillColumns+` FROM tills WHERE state = 'OPEN' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Till
	for rows.Next() {
		t, err := scanTill(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ListBalances returns the till's balances ordered by currency.
func (r *Repository) ListBalances(ctx context.Context, tillID int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT till_id, currency_code, opening_amount::text, current_amount::text
		FROM balances WHERE till_id = $1 ORDER BY currency_code`, tillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// ListMovements returns the most recent movements, newest first.
func (r *Repository) ListMovements(ctx context.Context, tillID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, till_id, currency_code, direction, amount::text, reason, note, actor_id, created_at
		FROM movements WHERE till_id = $1
		ORDER BY id DESC LIMIT $2`, tillID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Movement
	for rows.Next() {
		var (
			m      Movement
			amount string
		)
		if err := rows.Scan(&m.ID, &m.TillID, &m.Currency, &m.Direction, &amount, &m.Reason, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// TxStore is the pgx-backed TxRepository implementation.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// InsertTill creates a new OPEN till. The partial unique index on
// (operator_id) WHERE state='OPEN' turns a concurrent second open into a
// unique violation, reported as ErrAlreadyOpen.
func (s *TxStore) InsertTill(ctx context.Context, operatorID int64) (Till, error) {
	row := s.tx.QueryRow(ctx, `
		INSERT INTO tills (operator_id, state, opened_at, accumulated_profit)
		VALUES ($1, 'OPEN', NOW(), 0)
		RETURNING `+tillColumns, operatorID)
	t, err := scanTill(row)
	if isUniqueViolation(err) {
		return Till{}, fmt.Errorf("%w: operator %d", shared.ErrAlreadyOpen, operatorID)
	}
	return t, err
}

// LockOpenTill acquires the exclusive per-till lock for the operator's open
// till. NOWAIT bounds the wait: contention surfaces as ErrBusy instead of
// blocking, and retries stay with the caller.
func (s *TxStore) LockOpenTill(ctx context.Context, operatorID int64) (Till, error) {
	row := s.tx.QueryRow(ctx, `
		SELECT `+tillColumns+` FROM tills
		WHERE operator_id = $1 AND state = 'OPEN'
		FOR UPDATE NOWAIT`, operatorID)
	t, err := scanTill(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Till{}, shared.ErrNoOpenTill
	case isLockNotAvailable(err):
		return Till{}, shared.ErrBusy
	}
	return t, err
}

// LockTillByID locks a till row by id, whatever its state.
func (s *TxStore) LockTillByID(ctx context.Context, tillID int64) (Till, error) {
	row := s.tx.QueryRow(ctx, `
		SELECT `+tillColumns+` FROM tills WHERE id = $1 FOR UPDATE NOWAIT`, tillID)
	t, err := scanTill(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Till{}, fmt.Errorf("%w: till %d", shared.ErrNotFound, tillID)
	case isLockNotAvailable(err):
		return Till{}, shared.ErrBusy
	}
	return t, err
}

// CloseTill flips the locked till to CLOSED. The state guard keeps the
// transition terminal even if a stale caller retries.
func (s *TxStore) CloseTill(ctx context.Context, tillID, closedBy int64) (Till, error) {
	row := s.tx.QueryRow(ctx, `
		UPDATE tills SET state = 'CLOSED', closed_at = NOW(), closed_by = $2
		WHERE id = $1 AND state = 'OPEN'
		RETURNING `+tillColumns, tillID, closedBy)
	t, err := scanTill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Till{}, shared.ErrTillClosed
	}
	return t, err
}

// SeedBalance creates a balance row with equal opening and current amounts.
func (s *TxStore) SeedBalance(ctx context.Context, tillID int64, currency string, amount decimal.Decimal) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO balances (till_id, currency_code, opening_amount, current_amount)
		VALUES ($1, $2, $3, $3)`, tillID, currency, amount.String())
	return err
}

// GetBalanceForUpdate locks the balance row, materializing a zeroed one the
// first time the currency is touched in this till.
func (s *TxStore) GetBalanceForUpdate(ctx context.Context, tillID int64, currency string) (Balance, error) {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO balances (till_id, currency_code, opening_amount, current_amount)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (till_id, currency_code) DO NOTHING`, tillID, currency)
	if err != nil {
		return Balance{}, err
	}
	row := s.tx.QueryRow(ctx, `
		SELECT till_id, currency_code, opening_amount::text, current_amount::text
		FROM balances WHERE till_id = $1 AND currency_code = $2
		FOR UPDATE`, tillID, currency)
	return scanBalance(row)
}

// ApplyDelta shifts the current amount by the signed delta. Callers hold the
// row lock via GetBalanceForUpdate and enforce negativity policy themselves.
func (s *TxStore) ApplyDelta(ctx context.Context, tillID int64, currency string, delta decimal.Decimal) (Balance, error) {
	row := s.tx.QueryRow(ctx, `
		UPDATE balances SET current_amount = current_amount + $3
		WHERE till_id = $1 AND currency_code = $2
		RETURNING till_id, currency_code, opening_amount::text, current_amount::text`,
		tillID, currency, delta.String())
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, fmt.Errorf("%w: balance %d/%s", shared.ErrNotFound, tillID, currency)
	}
	return b, err
}

// InsertMovement appends to the movement log.
func (s *TxStore) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.tx.QueryRow(ctx, `
		INSERT INTO movements (till_id, currency_code, direction, amount, reason, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		m.TillID, m.Currency, m.Direction, m.Amount.String(), m.Reason, m.Note, m.ActorID, m.CreatedAt,
	).Scan(&m.ID)
	return m, err
}

// AddProfit accumulates realized profit on the till.
func (s *TxStore) AddProfit(ctx context.Context, tillID int64, profit decimal.Decimal) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE tills SET accumulated_profit = accumulated_profit + $2 WHERE id = $1`,
		tillID, profit.String())
	return err
}

// CountVoidRequests counts unresolved void requests blocking close.
func (s *TxStore) CountVoidRequests(ctx context.Context, tillID int64) (int, error) {
	var n int
	err := s.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE till_id = $1 AND status = 'VOID_REQUESTED'`,
		tillID).Scan(&n)
	return n, err
}

func scanTill(row pgx.Row) (Till, error) {
	var (
		t      Till
		profit string
	)
	if err := row.Scan(&t.ID, &t.OperatorID, &t.State, &t.OpenedAt, &t.ClosedAt, &t.ClosedBy, &profit); err != nil {
		return Till{}, err
	}
	var err error
	if t.AccumulatedProfit, err = decimal.NewFromString(profit); err != nil {
		return Till{}, err
	}
	return t, nil
}

func scanBalance(row pgx.Row) (Balance, error) {
	var (
		b       Balance
		opening string
		current string
	)
	if err := row.Scan(&b.TillID, &b.Currency, &opening, &current); err != nil {
		return Balance{}, err
	}
	var err error
	if b.Opening, err = decimal.NewFromString(opening); err != nil {
		return Balance{}, err
	}
	if b.Current, err = decimal.NewFromString(current); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// 55P03 is lock_not_available, raised by FOR UPDATE NOWAIT under contention.
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
