package currency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/shared"
)

// RepositoryPort abstracts registry persistence for the service.
type RepositoryPort interface {
	Get(ctx context.Context, code string) (Currency, error)
	List(ctx context.Context) ([]Currency, error)
	Insert(ctx context.Context, c Currency) (Currency, error)
	UpdateRates(ctx context.Context, code string, buy, sell decimal.Decimal) (Currency, error)
	Delete(ctx context.Context, code string) error
	InUse(ctx context.Context, code string) (bool, error)
	Home(ctx context.Context) (Currency, error)
}

// Service coordinates currency registry operations.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger

	homeMu   sync.Mutex
	homeCode string
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Get returns a registry entry by code.
func (s *Service) Get(ctx context.Context, code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := ValidateCode(code); err != nil {
		return Currency{}, err
	}
	return s.repo.Get(ctx, code)
}

// List returns the full registry.
func (s *Service) List(ctx context.Context) ([]Currency, error) {
	return s.repo.List(ctx)
}

// Create registers a new currency.
func (s *Service) Create(ctx context.Context, input CreateInput) (Currency, error) {
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	if err := ValidateCode(input.Code); err != nil {
		return Currency{}, err
	}
	if err := ValidateRates(input.BuyRate, input.SellRate); err != nil {
		return Currency{}, err
	}
	if input.BaseCost != nil && input.BaseCost.Sign() <= 0 {
		return Currency{}, fmt.Errorf("%w: base cost must be positive", shared.ErrValidation)
	}
	return s.repo.Insert(ctx, Currency{
		Code:     input.Code,
		Name:     strings.TrimSpace(input.Name),
		BuyRate:  input.BuyRate,
		SellRate: input.SellRate,
		BaseCost: input.BaseCost,
	})
}

// UpdateRates replaces the reference rates of an existing currency.
func (s *Service) UpdateRates(ctx context.Context, code string, buy, sell decimal.Decimal) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := ValidateCode(code); err != nil {
		return Currency{}, err
	}
	if err := ValidateRates(buy, sell); err != nil {
		return Currency{}, err
	}
	return s.repo.UpdateRates(ctx, code, buy, sell)
}

// Delete removes a currency that is neither the home currency nor referenced
// by any transaction or inventory lot.
func (s *Service) Delete(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := ValidateCode(code); err != nil {
		return err
	}
	cur, err := s.repo.Get(ctx, code)
	if err != nil {
		return err
	}
	if cur.IsHome {
		return fmt.Errorf("%w: home currency cannot be deleted", shared.ErrCurrencyInUse)
	}
	used, err := s.repo.InUse(ctx, code)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s is referenced by transactions or lots", shared.ErrCurrencyInUse, code)
	}
	return s.repo.Delete(ctx, code)
}

// Home resolves the home currency row. The code is cached after the first
// successful resolution; rates are re-read so feed updates stay visible. A
// failed lookup is not cached, so a transient storage error on the first
// call does not poison later ones.
func (s *Service) Home(ctx context.Context) (Currency, error) {
	s.homeMu.Lock()
	code := s.homeCode
	s.homeMu.Unlock()

	if code == "" {
		home, err := s.repo.Home(ctx)
		if err != nil {
			return Currency{}, err
		}
		code = home.Code
		s.homeMu.Lock()
		s.homeCode = code
		s.homeMu.Unlock()
	}
	return s.repo.Get(ctx, code)
}

// ApplyFeedRates bulk-applies feed quotes. Quotes failing validation or
// naming unknown currencies are skipped with a warning; the batch never
// fails wholesale.
func (s *Service) ApplyFeedRates(ctx context.Context, quotes []Quote) int {
	applied := 0
	for _, q := range quotes {
		code := strings.ToUpper(strings.TrimSpace(q.Code))
		if ValidateCode(code) != nil || ValidateRates(q.Buy, q.Sell) != nil {
			s.logger.Warn("skipping invalid feed quote", slog.String("code", q.Code))
			continue
		}
		if _, err := s.repo.UpdateRates(ctx, code, q.Buy, q.Sell); err != nil {
			s.logger.Warn("feed rate update failed",
				slog.String("code", code), slog.Any("error", err))
			continue
		}
		applied++
	}
	return applied
}
