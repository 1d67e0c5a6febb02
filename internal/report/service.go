// Package report builds read-only till snapshots for the reporting and PDF
// collaborators. Snapshots are cached with a short TTL; consumers tolerate
// staleness and the ledger is never mutated from here.
package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/cambix/cambix/internal/exchange"
	"github.com/cambix/cambix/internal/lots"
	"github.com/cambix/cambix/internal/shared"
	"github.com/cambix/cambix/internal/till"
)

// TillPort reads till state for snapshots.
type TillPort interface {
	GetByID(ctx context.Context, tillID int64) (till.Till, error)
	ListOpen(ctx context.Context) ([]till.Till, error)
	ListBalances(ctx context.Context, tillID int64) ([]till.Balance, error)
	ListMovements(ctx context.Context, tillID int64, limit int) ([]till.Movement, error)
}

// TransactionPort reads recorded transactions.
type TransactionPort interface {
	ListByTill(ctx context.Context, tillID int64, limit int) ([]exchange.Transaction, error)
}

// LotPort reads the till's inventory.
type LotPort interface {
	ListByTill(ctx context.Context, tillID int64) ([]lots.Lot, error)
}

// Snapshot is the full read model of one till.
type Snapshot struct {
	Till         till.Till              `json:"till"`
	Balances     []till.Balance         `json:"balances"`
	Movements    []till.Movement        `json:"movements"`
	Transactions []exchange.Transaction `json:"transactions"`
	Lots         []lots.Lot             `json:"lots"`
	Summary      string                 `json:"summary"`
	GeneratedAt  time.Time              `json:"generatedAt"`
}

// Service assembles and caches snapshots.
type Service struct {
	tills        TillPort
	transactions TransactionPort
	inventory    LotPort
	cache        *redis.Client
	ttl          time.Duration
	homeCode     string
	printer      *message.Printer
	logger       *slog.Logger
}

// NewService builds Service. ttl bounds cache staleness; zero disables caching.
func NewService(tills TillPort, transactions TransactionPort, inventory LotPort,
	cache *redis.Client, ttl time.Duration, homeCode string, logger *slog.Logger) *Service {
	return &Service{
		tills:        tills,
		transactions: transactions,
		inventory:    inventory,
		cache:        cache,
		ttl:          ttl,
		homeCode:     homeCode,
		printer:      message.NewPrinter(language.Spanish),
		logger:       logger,
	}
}

// Snapshot returns the till's read model, from cache when fresh.
func (s *Service) Snapshot(ctx context.Context, tillID int64) (Snapshot, error) {
	if cached, ok := s.fromCache(ctx, tillID); ok {
		return cached, nil
	}

	snap, err := s.build(ctx, tillID)
	if err != nil {
		return Snapshot{}, err
	}
	s.toCache(ctx, tillID, snap)
	return snap, nil
}

// Warm rebuilds and caches one till's snapshot, bypassing any cached copy.
func (s *Service) Warm(ctx context.Context, tillID int64) error {
	snap, err := s.build(ctx, tillID)
	if err != nil {
		return err
	}
	s.toCache(ctx, tillID, snap)
	return nil
}

// WarmupOpen pre-computes snapshots for every open till. Per-till failures
// are logged and skipped; warmup is best effort.
func (s *Service) WarmupOpen(ctx context.Context) (int, error) {
	open, err := s.tills.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, t := range open {
		snap, err := s.build(ctx, t.ID)
		if err != nil {
			s.logger.Warn("snapshot warmup", slog.Int64("till_id", t.ID), slog.Any("error", err))
			continue
		}
		s.toCache(ctx, t.ID, snap)
		warmed++
	}
	return warmed, nil
}

func (s *Service) build(ctx context.Context, tillID int64) (Snapshot, error) {
	t, err := s.tills.GetByID(ctx, tillID)
	if err != nil {
		return Snapshot{}, err
	}
	balances, err := s.tills.ListBalances(ctx, tillID)
	if err != nil {
		return Snapshot{}, err
	}
	movements, err := s.tills.ListMovements(ctx, tillID, 0)
	if err != nil {
		return Snapshot{}, err
	}
	transactions, err := s.transactions.ListByTill(ctx, tillID, 0)
	if err != nil {
		return Snapshot{}, err
	}
	inventory, err := s.inventory.ListByTill(ctx, tillID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Till:         t,
		Balances:     balances,
		Movements:    movements,
		Transactions: transactions,
		Lots:         inventory,
		GeneratedAt:  time.Now().UTC(),
	}
	snap.Summary = s.summary(snap)
	return snap, nil
}

// summary renders the human-facing line with locale-aware number grouping.
func (s *Service) summary(snap Snapshot) string {
	home := decimal.Zero
	for _, b := range snap.Balances {
		if b.Currency == s.homeCode {
			home = b.Current
		}
	}
	return s.printer.Sprintf("Caja %d: %s %v en efectivo, %v de utilidad, %d operaciones",
		snap.Till.ID,
		s.homeCode,
		number.Decimal(home.InexactFloat64(), number.Scale(2)),
		number.Decimal(snap.Till.AccumulatedProfit.InexactFloat64(), number.Scale(2)),
		len(snap.Transactions))
}

func (s *Service) fromCache(ctx context.Context, tillID int64) (Snapshot, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return Snapshot{}, false
	}
	raw, err := s.cache.Get(ctx, shared.TillSnapshotKey(tillID)).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func (s *Service) toCache(ctx context.Context, tillID int64, snap Snapshot) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, shared.TillSnapshotKey(tillID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("cache snapshot", slog.Int64("till_id", tillID), slog.Any("error", err))
	}
}
