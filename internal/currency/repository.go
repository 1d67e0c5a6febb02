package currency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/shared"
)

// Repository persists the currency registry in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const currencyColumns = `code, name, buy_rate::text, sell_rate::text, base_cost::text, is_home, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, code string) (Currency, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+currencyColumns+` FROM currencies WHERE code = $1`, code)
	cur, err := scanCurrency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Currency{}, fmt.Errorf("%w: currency %s", shared.ErrNotFound, code)
	}
	return cur, err
}

func (r *Repository) List(ctx context.Context) ([]Currency, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+currencyColumns+` FROM currencies ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Currency
	for rows.Next() {
		cur, err := scanCurrency(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cur)
	}
	return result, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, c Currency) (Currency, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO currencies (code, name, buy_rate, sell_rate, base_cost, is_home, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
		RETURNING `+currencyColumns,
		c.Code, c.Name, c.BuyRate.String(), c.SellRate.String(), decimalPtr(c.BaseCost))
	cur, err := scanCurrency(row)
	if isUniqueViolation(err) {
		return Currency{}, fmt.Errorf("%w: currency %s already exists", shared.ErrConflict, c.Code)
	}
	return cur, err
}

func (r *Repository) UpdateRates(ctx context.Context, code string, buy, sell decimal.Decimal) (Currency, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE currencies SET buy_rate = $2, sell_rate = $3, updated_at = NOW()
		WHERE code = $1
		RETURNING `+currencyColumns,
		code, buy.String(), sell.String())
	cur, err := scanCurrency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Currency{}, fmt.Errorf("%w: currency %s", shared.ErrNotFound, code)
	}
	return cur, err
}

func (r *Repository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM currencies WHERE code = $1 AND NOT is_home`, code)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", shared.ErrCurrencyInUse, code)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: currency %s", shared.ErrNotFound, code)
	}
	return nil
}

func (r *Repository) InUse(ctx context.Context, code string) (bool, error) {
	var used bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE currency_code = $1)
		    OR EXISTS (SELECT 1 FROM lots WHERE currency_code = $1)`, code).Scan(&used)
	return used, err
}

func (r *Repository) Home(ctx context.Context) (Currency, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+currencyColumns+` FROM currencies WHERE is_home LIMIT 1`)
	cur, err := scanCurrency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Currency{}, fmt.Errorf("%w: home currency not seeded", shared.ErrNotFound)
	}
	return cur, err
}

func scanCurrency(row pgx.Row) (Currency, error) {
	var (
		cur      Currency
		buy      string
		sell     string
		baseCost *string
	)
	if err := row.Scan(&cur.Code, &cur.Name, &buy, &sell, &baseCost, &cur.IsHome, &cur.CreatedAt, &cur.UpdatedAt); err != nil {
		return Currency{}, err
	}
	var err error
	if cur.BuyRate, err = decimal.NewFromString(buy); err != nil {
		return Currency{}, err
	}
	if cur.SellRate, err = decimal.NewFromString(sell); err != nil {
		return Currency{}, err
	}
	if baseCost != nil {
		d, err := decimal.NewFromString(*baseCost)
		if err != nil {
			return Currency{}, err
		}
		cur.BaseCost = &d
	}
	return cur, nil
}

func decimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
