package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/currency"
	"github.com/cambix/cambix/internal/lots"
	"github.com/cambix/cambix/internal/observability"
	"github.com/cambix/cambix/internal/shared"
	"github.com/cambix/cambix/internal/till"
)

// TxRepository exposes every operation the engine performs inside one unit
// of work: till locking, balance deltas, movement appends, lot mutation and
// transaction persistence. One implementation backs it all so the whole
// mutation set commits or rolls back together.
type TxRepository interface {
	LockOpenTill(ctx context.Context, operatorID int64) (till.Till, error)
	LockTillByID(ctx context.Context, tillID int64) (till.Till, error)
	GetBalanceForUpdate(ctx context.Context, tillID int64, currency string) (till.Balance, error)
	ApplyDelta(ctx context.Context, tillID int64, currency string, delta decimal.Decimal) (till.Balance, error)
	InsertMovement(ctx context.Context, m till.Movement) (till.Movement, error)
	AddProfit(ctx context.Context, tillID int64, profit decimal.Decimal) error

	AddLot(ctx context.Context, lot lots.Lot) (lots.Lot, error)
	ConsumeFIFO(ctx context.Context, tillID int64, currency string, amount decimal.Decimal) (lots.Consumption, error)

	InsertTransaction(ctx context.Context, t Transaction) (Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error)
	SetTransactionStatus(ctx context.Context, id uuid.UUID, status Status) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	ListByTill(ctx context.Context, tillID int64, limit int) ([]Transaction, error)
}

// CurrencyPort is the slice of the registry the engine consumes.
type CurrencyPort interface {
	Get(ctx context.Context, code string) (currency.Currency, error)
	Home(ctx context.Context) (currency.Currency, error)
}

// Config groups the business thresholds, all configuration inputs rather
// than hardcoded literals.
type Config struct {
	// RateTolerance is the max relative deviation from the reference rate
	// (0.10 means 10%).
	RateTolerance decimal.Decimal
	// CustomerThreshold is the home total above which a customer is required.
	CustomerThreshold decimal.Decimal
	// TotalTolerance is the accepted absolute deviation of the claimed total.
	TotalTolerance decimal.Decimal
}

// Service is the transaction engine.
type Service struct {
	repo       RepositoryPort
	currencies CurrencyPort
	cfg        Config
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, currencies CurrencyPort, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, currencies: currencies, cfg: cfg, logger: logger, metrics: metrics}
}

// Record validates and persists one buy or sell atomically: lot mutation,
// balance deltas, movement appends, profit accrual and the transaction row
// commit together or not at all.
func (s *Service) Record(ctx context.Context, input RecordInput) (Transaction, error) {
	if input.Type != TypeBuy && input.Type != TypeSell {
		return Transaction{}, fmt.Errorf("%w: type must be BUY or SELL", shared.ErrValidation)
	}
	if input.Amount.Sign() <= 0 {
		return Transaction{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if input.Rate.Sign() <= 0 {
		return Transaction{}, fmt.Errorf("%w: rate must be positive", shared.ErrValidation)
	}

	code := strings.ToUpper(strings.TrimSpace(input.Currency))
	cur, err := s.currencies.Get(ctx, code)
	if err != nil {
		return Transaction{}, err
	}
	home, err := s.currencies.Home(ctx)
	if err != nil {
		return Transaction{}, err
	}
	if cur.IsHome {
		return Transaction{}, fmt.Errorf("%w: %s is the home currency", shared.ErrValidation, code)
	}

	homeTotal := input.Amount.Mul(input.Rate).Round(2)
	if homeTotal.Sub(input.ClaimedTotal).Abs().GreaterThan(s.cfg.TotalTolerance) {
		return Transaction{}, fmt.Errorf("%w: claimed %s, computed %s",
			shared.ErrInconsistentTotal, input.ClaimedTotal.StringFixed(2), homeTotal.StringFixed(2))
	}

	reference := cur.BuyRate
	if input.Type == TypeSell {
		reference = cur.SellRate
	}
	deviation := input.Rate.Sub(reference).Abs().Div(reference)
	if deviation.GreaterThan(s.cfg.RateTolerance) {
		return Transaction{}, fmt.Errorf("%w: rate %s deviates %s%% from reference %s",
			shared.ErrRateOutOfRange, input.Rate, deviation.Mul(decimal.NewFromInt(100)).StringFixed(1), reference)
	}

	customer := strings.TrimSpace(input.Customer)
	if homeTotal.GreaterThan(s.cfg.CustomerThreshold) && customer == "" {
		return Transaction{}, fmt.Errorf("%w: totals above %s need identification",
			shared.ErrCustomerRequired, s.cfg.CustomerThreshold.StringFixed(2))
	}

	record := Transaction{
		ID:         uuid.New(),
		Type:       input.Type,
		Currency:   code,
		Amount:     input.Amount,
		Rate:       input.Rate,
		HomeTotal:  homeTotal,
		OperatorID: input.OperatorID,
		Status:     StatusNormal,
	}
	if customer != "" {
		record.Customer = &customer
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockOpenTill(ctx, input.OperatorID)
		if err != nil {
			return err
		}
		record.TillID = t.ID

		if input.Type == TypeBuy {
			err = s.recordBuy(ctx, tx, &record, home.Code)
		} else {
			err = s.recordSell(ctx, tx, &record, cur, home.Code)
		}
		if err != nil {
			return err
		}
		record, err = tx.InsertTransaction(ctx, record)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}

	s.metrics.ObserveTransaction(string(record.Type))
	s.logger.Info("transaction recorded",
		slog.String("id", record.ID.String()),
		slog.String("type", string(record.Type)),
		slog.String("currency", record.Currency),
		slog.String("amount", record.Amount.StringFixed(2)),
		slog.String("home_total", record.HomeTotal.StringFixed(2)))
	return record, nil
}

// recordBuy pays homeTotal out of the home balance and books the acquired
// foreign currency as a fresh inventory lot at unitCost = rate.
func (s *Service) recordBuy(ctx context.Context, tx TxRepository, record *Transaction, homeCode string) error {
	homeBalance, err := tx.GetBalanceForUpdate(ctx, record.TillID, homeCode)
	if err != nil {
		return err
	}
	// Buys are hard-blocked: the drawer cannot pay with money it lacks.
	if homeBalance.Current.LessThan(record.HomeTotal) {
		return fmt.Errorf("%w: home balance %s, buy total %s",
			shared.ErrInsufficientFunds, homeBalance.Current.StringFixed(2), record.HomeTotal.StringFixed(2))
	}

	if _, err := tx.AddLot(ctx, lots.Lot{
		TillID:   record.TillID,
		Currency: record.Currency,
		Amount:   record.Amount,
		UnitCost: record.Rate,
	}); err != nil {
		return err
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, homeCode, record.HomeTotal.Neg()); err != nil {
		return err
	}
	if _, err := tx.GetBalanceForUpdate(ctx, record.TillID, record.Currency); err != nil {
		return err
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, record.Currency, record.Amount); err != nil {
		return err
	}

	for _, m := range []till.Movement{
		{TillID: record.TillID, Currency: homeCode, Direction: till.DirectionOut, Amount: record.HomeTotal, Reason: till.ReasonBuy, ActorID: record.OperatorID},
		{TillID: record.TillID, Currency: record.Currency, Direction: till.DirectionIn, Amount: record.Amount, Reason: till.ReasonBuy, ActorID: record.OperatorID},
	} {
		if _, err := tx.InsertMovement(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// recordSell prices the sale against FIFO inventory, falling back to the
// registry's base cost (or reference buy rate) for any uncovered remainder.
// Shortfalls and projected negative balances are warned, not blocked —
// deliberate business policy.
func (s *Service) recordSell(ctx context.Context, tx TxRepository, record *Transaction, cur currency.Currency, homeCode string) error {
	consumption, err := tx.ConsumeFIFO(ctx, record.TillID, record.Currency, record.Amount)
	if err != nil {
		return err
	}

	cost := consumption.CostBasis
	if consumption.Short.Sign() > 0 {
		fallbackUnit := cur.BuyRate
		if cur.BaseCost != nil {
			fallbackUnit = *cur.BaseCost
		}
		cost = cost.Add(consumption.Short.Mul(fallbackUnit))
		s.metrics.ObserveShortfall()
		s.logger.Warn("inventory shortfall on sell, using fallback valuation",
			slog.Int64("till_id", record.TillID),
			slog.String("currency", record.Currency),
			slog.String("short", consumption.Short.String()),
			slog.String("fallback_unit_cost", fallbackUnit.String()))
	}
	cost = cost.Round(2)
	profit := record.HomeTotal.Sub(cost).Round(2)
	record.RealizedProfit = &profit

	foreignBalance, err := tx.GetBalanceForUpdate(ctx, record.TillID, record.Currency)
	if err != nil {
		return err
	}
	if foreignBalance.Current.LessThan(record.Amount) {
		s.logger.Warn("sell drives foreign balance negative",
			slog.Int64("till_id", record.TillID),
			slog.String("currency", record.Currency),
			slog.String("balance", foreignBalance.Current.String()),
			slog.String("amount", record.Amount.String()))
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, record.Currency, record.Amount.Neg()); err != nil {
		return err
	}
	if _, err := tx.GetBalanceForUpdate(ctx, record.TillID, homeCode); err != nil {
		return err
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, homeCode, record.HomeTotal); err != nil {
		return err
	}
	if err := tx.AddProfit(ctx, record.TillID, profit); err != nil {
		return err
	}

	// The home leg is split into cost and profit movements so the movement
	// log nets exactly to the balance deltas.
	profitDirection := till.DirectionIn
	if profit.Sign() < 0 {
		profitDirection = till.DirectionOut
	}
	for _, m := range []till.Movement{
		{TillID: record.TillID, Currency: homeCode, Direction: till.DirectionIn, Amount: cost, Reason: till.ReasonSell, ActorID: record.OperatorID},
		{TillID: record.TillID, Currency: homeCode, Direction: profitDirection, Amount: profit.Abs(), Reason: till.ReasonProfit, ActorID: record.OperatorID},
		{TillID: record.TillID, Currency: record.Currency, Direction: till.DirectionOut, Amount: record.Amount, Reason: till.ReasonSell, ActorID: record.OperatorID},
	} {
		if _, err := tx.InsertMovement(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// RequestVoid flags a transaction for cancellation. The till cannot close
// while the request is unresolved.
func (s *Service) RequestVoid(ctx context.Context, operatorID int64, txID uuid.UUID) (Transaction, error) {
	var result Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return err
		}
		t, err := tx.LockTillByID(ctx, record.TillID)
		if err != nil {
			return err
		}
		if t.State != till.StateOpen {
			return shared.ErrTillClosed
		}
		if record.Status != StatusNormal {
			return fmt.Errorf("%w: transaction is %s", shared.ErrConflict, record.Status)
		}
		if err := tx.SetTransactionStatus(ctx, txID, StatusVoidRequested); err != nil {
			return err
		}
		record.Status = StatusVoidRequested
		result = record
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.logger.Info("void requested",
		slog.String("transaction_id", txID.String()), slog.Int64("operator_id", operatorID))
	return result, nil
}

// ApproveVoid cancels a transaction by appending inverse entries: balances
// and accumulated profit are reversed and ANULACION movements mirror every
// delta. The original row is never edited beyond its status flag.
func (s *Service) ApproveVoid(ctx context.Context, operatorID int64, txID uuid.UUID) (Transaction, error) {
	home, err := s.currencies.Home(ctx)
	if err != nil {
		return Transaction{}, err
	}

	var result Transaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return err
		}
		if record.Status != StatusVoidRequested {
			return fmt.Errorf("%w: transaction is %s", shared.ErrConflict, record.Status)
		}
		t, err := tx.LockTillByID(ctx, record.TillID)
		if err != nil {
			return err
		}
		if t.State != till.StateOpen {
			return shared.ErrTillClosed
		}

		if record.Type == TypeBuy {
			err = s.voidBuy(ctx, tx, record, home.Code, operatorID)
		} else {
			err = s.voidSell(ctx, tx, record, home.Code, operatorID)
		}
		if err != nil {
			return err
		}
		if err := tx.SetTransactionStatus(ctx, txID, StatusVoided); err != nil {
			return err
		}
		record.Status = StatusVoided
		result = record
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.logger.Info("void approved",
		slog.String("transaction_id", txID.String()), slog.Int64("operator_id", operatorID))
	return result, nil
}

// voidBuy returns the home total to the drawer and takes the foreign amount
// back out. The lot created by the buy stays in place: inventory is
// append-only and its remaining units keep their recorded cost. If the
// bought units were already sold on, the foreign balance goes negative with
// a warning, the same policy recordSell applies.
func (s *Service) voidBuy(ctx context.Context, tx TxRepository, record Transaction, homeCode string, actorID int64) error {
	if _, err := tx.GetBalanceForUpdate(ctx, record.TillID, homeCode); err != nil {
		return err
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, homeCode, record.HomeTotal); err != nil {
		return err
	}
	foreignBalance, err := tx.GetBalanceForUpdate(ctx, record.TillID, record.Currency)
	if err != nil {
		return err
	}
	if foreignBalance.Current.LessThan(record.Amount) {
		s.logger.Warn("void drives foreign balance negative",
			slog.Int64("till_id", record.TillID),
			slog.String("currency", record.Currency),
			slog.String("balance", foreignBalance.Current.String()),
			slog.String("amount", record.Amount.String()))
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, record.Currency, record.Amount.Neg()); err != nil {
		return err
	}
	for _, m := range []till.Movement{
		{TillID: record.TillID, Currency: homeCode, Direction: till.DirectionIn, Amount: record.HomeTotal, Reason: till.ReasonVoid, ActorID: actorID},
		{TillID: record.TillID, Currency: record.Currency, Direction: till.DirectionOut, Amount: record.Amount, Reason: till.ReasonVoid, ActorID: actorID},
	} {
		if _, err := tx.InsertMovement(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// voidSell pays the home total back out of the drawer (hard-blocked like a
// buy), restores the sold quantity as a corrective lot at the sale's cost
// basis, and reverses the realized profit.
func (s *Service) voidSell(ctx context.Context, tx TxRepository, record Transaction, homeCode string, actorID int64) error {
	profit := decimal.Zero
	if record.RealizedProfit != nil {
		profit = *record.RealizedProfit
	}
	cost := record.HomeTotal.Sub(profit)

	homeBalance, err := tx.GetBalanceForUpdate(ctx, record.TillID, homeCode)
	if err != nil {
		return err
	}
	if homeBalance.Current.LessThan(record.HomeTotal) {
		return fmt.Errorf("%w: home balance %s, void refund %s",
			shared.ErrInsufficientFunds, homeBalance.Current.StringFixed(2), record.HomeTotal.StringFixed(2))
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, homeCode, record.HomeTotal.Neg()); err != nil {
		return err
	}
	if _, err := tx.GetBalanceForUpdate(ctx, record.TillID, record.Currency); err != nil {
		return err
	}
	if _, err := tx.ApplyDelta(ctx, record.TillID, record.Currency, record.Amount); err != nil {
		return err
	}
	if _, err := tx.AddLot(ctx, lots.Lot{
		TillID:   record.TillID,
		Currency: record.Currency,
		Amount:   record.Amount,
		UnitCost: record.CostBasisUnit(),
	}); err != nil {
		return err
	}
	if err := tx.AddProfit(ctx, record.TillID, profit.Neg()); err != nil {
		return err
	}

	profitDirection := till.DirectionOut
	if profit.Sign() < 0 {
		profitDirection = till.DirectionIn
	}
	for _, m := range []till.Movement{
		{TillID: record.TillID, Currency: homeCode, Direction: till.DirectionOut, Amount: cost, Reason: till.ReasonVoid, ActorID: actorID},
		{TillID: record.TillID, Currency: homeCode, Direction: profitDirection, Amount: profit.Abs(), Reason: till.ReasonVoid, ActorID: actorID},
		{TillID: record.TillID, Currency: record.Currency, Direction: till.DirectionIn, Amount: record.Amount, Reason: till.ReasonVoid, ActorID: actorID},
	} {
		if _, err := tx.InsertMovement(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListByTill returns the till's most recent transactions.
func (s *Service) ListByTill(ctx context.Context, tillID int64, limit int) ([]Transaction, error) {
	return s.repo.ListByTill(ctx, tillID, limit)
}
