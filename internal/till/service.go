package till

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/currency"
	"github.com/cambix/cambix/internal/observability"
	"github.com/cambix/cambix/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CurrentOpen(ctx context.Context, operatorID int64) (Till, error)
	GetByID(ctx context.Context, tillID int64) (Till, error)
	ListBalances(ctx context.Context, tillID int64) ([]Balance, error)
	ListMovements(ctx context.Context, tillID int64, limit int) ([]Movement, error)
}

// CurrencyPort is the slice of the registry the till lifecycle needs.
type CurrencyPort interface {
	Get(ctx context.Context, code string) (currency.Currency, error)
}

// Service coordinates till lifecycle and balance adjustments.
type Service struct {
	repo       RepositoryPort
	currencies CurrencyPort
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, currencies CurrencyPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, currencies: currencies, logger: logger, metrics: metrics}
}

// Open creates a till with seeded balances for each supplied currency.
// A second open for the same operator fails with ErrAlreadyOpen — enforced
// by the storage-level uniqueness constraint, not process memory.
func (s *Service) Open(ctx context.Context, operatorID int64, opening map[string]decimal.Decimal) (Till, error) {
	if operatorID <= 0 {
		return Till{}, fmt.Errorf("%w: operator required", shared.ErrValidation)
	}
	codes := make([]string, 0, len(opening))
	for code, amount := range opening {
		code = strings.ToUpper(strings.TrimSpace(code))
		if amount.Sign() < 0 {
			return Till{}, fmt.Errorf("%w: opening balance for %s must not be negative", shared.ErrValidation, code)
		}
		if _, err := s.currencies.Get(ctx, code); err != nil {
			return Till{}, err
		}
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var created Till
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.InsertTill(ctx, operatorID)
		if err != nil {
			return err
		}
		for _, code := range codes {
			amount := opening[code]
			if err := tx.SeedBalance(ctx, t.ID, code, amount); err != nil {
				return err
			}
			if amount.Sign() > 0 {
				_, err := tx.InsertMovement(ctx, Movement{
					TillID:    t.ID,
					Currency:  code,
					Direction: DirectionIn,
					Amount:    amount,
					Reason:    ReasonOpening,
					ActorID:   operatorID,
				})
				if err != nil {
					return err
				}
			}
		}
		created = t
		return nil
	})
	if err != nil {
		return Till{}, err
	}
	s.metrics.TillOpened()
	s.logger.Info("till opened",
		slog.Int64("till_id", created.ID), slog.Int64("operator_id", operatorID))
	return created, nil
}

// Close transitions the operator's open till to CLOSED. The transition is
// terminal; a second close finds no open till. Unresolved void requests
// block the close with ErrPendingWork.
func (s *Service) Close(ctx context.Context, operatorID int64) (Till, error) {
	var closed Till
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockOpenTill(ctx, operatorID)
		if err != nil {
			return err
		}
		pending, err := tx.CountVoidRequests(ctx, t.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: %d unresolved void requests", shared.ErrPendingWork, pending)
		}
		closed, err = tx.CloseTill(ctx, t.ID, operatorID)
		return err
	})
	if err != nil {
		return Till{}, err
	}
	s.metrics.TillClosed()
	s.logger.Info("till closed",
		slog.Int64("till_id", closed.ID),
		slog.Int64("operator_id", operatorID),
		slog.String("accumulated_profit", closed.AccumulatedProfit.StringFixed(2)))
	return closed, nil
}

// Adjust applies a direct balance correction outside the buy/sell flow and
// appends one AJUSTE movement. An OUT adjustment may not drive the balance
// negative.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Balance, error) {
	if input.Amount.Sign() <= 0 {
		return Balance{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if input.Direction != DirectionIn && input.Direction != DirectionOut {
		return Balance{}, fmt.Errorf("%w: direction must be IN or OUT", shared.ErrValidation)
	}
	code := strings.ToUpper(strings.TrimSpace(input.Currency))
	if _, err := s.currencies.Get(ctx, code); err != nil {
		return Balance{}, err
	}

	delta := input.Amount
	if input.Direction == DirectionOut {
		delta = delta.Neg()
	}

	var result Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockOpenTill(ctx, input.OperatorID)
		if err != nil {
			return err
		}
		balance, err := tx.GetBalanceForUpdate(ctx, t.ID, code)
		if err != nil {
			return err
		}
		if balance.Current.Add(delta).Sign() < 0 {
			return fmt.Errorf("%w: %s balance %s, adjustment %s",
				shared.ErrInsufficientFunds, code, balance.Current, input.Amount)
		}
		if result, err = tx.ApplyDelta(ctx, t.ID, code, delta); err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, Movement{
			TillID:    t.ID,
			Currency:  code,
			Direction: input.Direction,
			Amount:    input.Amount,
			Reason:    ReasonAdjust,
			Note:      strings.TrimSpace(input.Note),
			ActorID:   input.OperatorID,
		})
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	s.logger.Info("till adjusted",
		slog.Int64("till_id", result.TillID),
		slog.String("currency", code),
		slog.String("direction", string(input.Direction)),
		slog.String("amount", input.Amount.StringFixed(2)))
	return result, nil
}

// CurrentOpen returns the operator's open till.
func (s *Service) CurrentOpen(ctx context.Context, operatorID int64) (Till, error) {
	return s.repo.CurrentOpen(ctx, operatorID)
}

// GetByID returns a till regardless of state.
func (s *Service) GetByID(ctx context.Context, tillID int64) (Till, error) {
	return s.repo.GetByID(ctx, tillID)
}

// Balances lists the till's per-currency balances.
func (s *Service) Balances(ctx context.Context, tillID int64) ([]Balance, error) {
	return s.repo.ListBalances(ctx, tillID)
}

// Movements lists the till's most recent movements.
func (s *Service) Movements(ctx context.Context, tillID int64, limit int) ([]Movement, error) {
	return s.repo.ListMovements(ctx, tillID, limit)
}
