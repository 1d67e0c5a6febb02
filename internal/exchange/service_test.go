package exchange

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cambix/cambix/internal/currency"
	"github.com/cambix/cambix/internal/lots"
	"github.com/cambix/cambix/internal/shared"
	"github.com/cambix/cambix/internal/till"
)

type engineRepo struct {
	tills        map[int64]till.Till
	balances     map[string]till.Balance
	movements    []till.Movement
	lots         map[string][]lots.Lot
	transactions map[uuid.UUID]Transaction
	nextMoveID   int64
}

func newEngineRepo() *engineRepo {
	return &engineRepo{
		tills:        make(map[int64]till.Till),
		balances:     make(map[string]till.Balance),
		lots:         make(map[string][]lots.Lot),
		transactions: make(map[uuid.UUID]Transaction),
	}
}

func lotKey(tillID int64, currency string) string {
	return fmt.Sprintf("%d:%s", tillID, currency)
}

// openTill seeds an open till with the given balances, bypassing the till
// service; the engine only needs the resulting state.
func (r *engineRepo) openTill(tillID, operatorID int64, seeds map[string]decimal.Decimal) {
	r.tills[tillID] = till.Till{
		ID:                tillID,
		OperatorID:        operatorID,
		State:             till.StateOpen,
		OpenedAt:          time.Now().UTC(),
		AccumulatedProfit: decimal.Zero,
	}
	for code, amount := range seeds {
		r.balances[lotKey(tillID, code)] = till.Balance{
			TillID: tillID, Currency: code, Opening: amount, Current: amount,
		}
	}
}

func (r *engineRepo) seedLot(tillID int64, code string, amount, unitCost decimal.Decimal) {
	key := lotKey(tillID, code)
	r.lots[key] = append(r.lots[key], lots.Lot{
		ID:         uuid.New(),
		TillID:     tillID,
		Currency:   code,
		Amount:     amount,
		UnitCost:   unitCost,
		AcquiredAt: time.Now().UTC().Add(time.Duration(len(r.lots[key])) * time.Second),
		Available:  true,
	})
}

func (r *engineRepo) balance(tillID int64, code string) decimal.Decimal {
	return r.balances[lotKey(tillID, code)].Current
}

func (r *engineRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &engineTx{repo: r})
}

func (r *engineRepo) GetTransaction(_ context.Context, id uuid.UUID) (Transaction, error) {
	t, ok := r.transactions[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: transaction %s", shared.ErrNotFound, id)
	}
	return t, nil
}

func (r *engineRepo) ListByTill(_ context.Context, tillID int64, _ int) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.transactions {
		if t.TillID == tillID {
			out = append(out, t)
		}
	}
	return out, nil
}

type engineTx struct {
	repo *engineRepo
}

func (tx *engineTx) LockOpenTill(_ context.Context, operatorID int64) (till.Till, error) {
	for _, t := range tx.repo.tills {
		if t.OperatorID == operatorID && t.State == till.StateOpen {
			return t, nil
		}
	}
	return till.Till{}, shared.ErrNoOpenTill
}

func (tx *engineTx) LockTillByID(_ context.Context, tillID int64) (till.Till, error) {
	t, ok := tx.repo.tills[tillID]
	if !ok {
		return till.Till{}, fmt.Errorf("%w: till %d", shared.ErrNotFound, tillID)
	}
	return t, nil
}

func (tx *engineTx) GetBalanceForUpdate(_ context.Context, tillID int64, code string) (till.Balance, error) {
	key := lotKey(tillID, code)
	if b, ok := tx.repo.balances[key]; ok {
		return b, nil
	}
	b := till.Balance{TillID: tillID, Currency: code, Opening: decimal.Zero, Current: decimal.Zero}
	tx.repo.balances[key] = b
	return b, nil
}

func (tx *engineTx) ApplyDelta(ctx context.Context, tillID int64, code string, delta decimal.Decimal) (till.Balance, error) {
	b, err := tx.GetBalanceForUpdate(ctx, tillID, code)
	if err != nil {
		return till.Balance{}, err
	}
	b.Current = b.Current.Add(delta)
	tx.repo.balances[lotKey(tillID, code)] = b
	return b, nil
}

func (tx *engineTx) InsertMovement(_ context.Context, m till.Movement) (till.Movement, error) {
	tx.repo.nextMoveID++
	m.ID = tx.repo.nextMoveID
	m.CreatedAt = time.Now().UTC()
	tx.repo.movements = append(tx.repo.movements, m)
	return m, nil
}

func (tx *engineTx) AddProfit(_ context.Context, tillID int64, profit decimal.Decimal) error {
	t := tx.repo.tills[tillID]
	t.AccumulatedProfit = t.AccumulatedProfit.Add(profit)
	tx.repo.tills[tillID] = t
	return nil
}

func (tx *engineTx) AddLot(_ context.Context, lot lots.Lot) (lots.Lot, error) {
	lot.ID = uuid.New()
	lot.AcquiredAt = time.Now().UTC()
	lot.Available = true
	key := lotKey(lot.TillID, lot.Currency)
	tx.repo.lots[key] = append(tx.repo.lots[key], lot)
	return lot, nil
}

func (tx *engineTx) ConsumeFIFO(_ context.Context, tillID int64, code string, amount decimal.Decimal) (lots.Consumption, error) {
	key := lotKey(tillID, code)
	var available []lots.Lot
	for _, l := range tx.repo.lots[key] {
		if l.Available {
			available = append(available, l)
		}
	}
	consumption := lots.Consume(available, amount)
	for _, touched := range consumption.Touched {
		for i, l := range tx.repo.lots[key] {
			if l.ID == touched.ID {
				tx.repo.lots[key][i] = touched
			}
		}
	}
	return consumption, nil
}

func (tx *engineTx) InsertTransaction(_ context.Context, t Transaction) (Transaction, error) {
	t.CreatedAt = time.Now().UTC()
	tx.repo.transactions[t.ID] = t
	return t, nil
}

func (tx *engineTx) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return tx.repo.GetTransaction(ctx, id)
}

func (tx *engineTx) SetTransactionStatus(_ context.Context, id uuid.UUID, status Status) error {
	t, ok := tx.repo.transactions[id]
	if !ok {
		return fmt.Errorf("%w: transaction %s", shared.ErrNotFound, id)
	}
	t.Status = status
	tx.repo.transactions[id] = t
	return nil
}

type engineCurrencies struct {
	known map[string]currency.Currency
}

func (c engineCurrencies) Get(_ context.Context, code string) (currency.Currency, error) {
	cur, ok := c.known[code]
	if !ok {
		return currency.Currency{}, fmt.Errorf("%w: currency %s", shared.ErrNotFound, code)
	}
	return cur, nil
}

func (c engineCurrencies) Home(_ context.Context) (currency.Currency, error) {
	for _, cur := range c.known {
		if cur.IsHome {
			return cur, nil
		}
	}
	return currency.Currency{}, shared.ErrNotFound
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newEngine(repo *engineRepo) *Service {
	return newEngineWithLogger(repo, slog.Default())
}

func newEngineWithLogger(repo *engineRepo, logger *slog.Logger) *Service {
	baseCost := dec("4.00")
	currencies := engineCurrencies{known: map[string]currency.Currency{
		"PEN": {Code: "PEN", IsHome: true, BuyRate: dec("1"), SellRate: dec("1")},
		"USD": {Code: "USD", BuyRate: dec("3.50"), SellRate: dec("3.60")},
		"EUR": {Code: "EUR", BuyRate: dec("4.10"), SellRate: dec("4.20"), BaseCost: &baseCost},
	}}
	return NewService(repo, currencies, Config{
		RateTolerance:     dec("0.10"),
		CustomerThreshold: dec("3000"),
		TotalTolerance:    dec("0.01"),
	}, logger, nil)
}

func buy(t *testing.T, svc *Service, operatorID int64, code, amount, rate string) Transaction {
	t.Helper()
	recorded, err := svc.Record(context.Background(), RecordInput{
		OperatorID:   operatorID,
		Type:         TypeBuy,
		Currency:     code,
		Amount:       dec(amount),
		Rate:         dec(rate),
		ClaimedTotal: dec(amount).Mul(dec(rate)).Round(2),
	})
	require.NoError(t, err)
	return recorded
}

func sell(t *testing.T, svc *Service, operatorID int64, code, amount, rate string) Transaction {
	t.Helper()
	recorded, err := svc.Record(context.Background(), RecordInput{
		OperatorID:   operatorID,
		Type:         TypeSell,
		Currency:     code,
		Amount:       dec(amount),
		Rate:         dec(rate),
		ClaimedTotal: dec(amount).Mul(dec(rate)).Round(2),
	})
	require.NoError(t, err)
	return recorded
}

func TestBuyCreatesLotAndMovesBalances(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("1000")})
	svc := newEngine(repo)

	recorded := buy(t, svc, 7, "USD", "100", "3.50")
	require.Equal(t, StatusNormal, recorded.Status)
	require.True(t, recorded.HomeTotal.Equal(dec("350")))
	require.Nil(t, recorded.RealizedProfit)

	require.True(t, repo.balance(1, "PEN").Equal(dec("650")))
	require.True(t, repo.balance(1, "USD").Equal(dec("100")))

	created := repo.lots[lotKey(1, "USD")]
	require.Len(t, created, 1)
	require.True(t, created[0].Amount.Equal(dec("100")))
	require.True(t, created[0].UnitCost.Equal(dec("3.50")))

	require.Len(t, repo.movements, 2)
	for _, m := range repo.movements {
		require.Equal(t, till.ReasonBuy, m.Reason)
	}
}

func TestBuyInsufficientHomeFunds(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("100")})
	svc := newEngine(repo)

	_, err := svc.Record(context.Background(), RecordInput{
		OperatorID: 7, Type: TypeBuy, Currency: "USD",
		Amount: dec("100"), Rate: dec("3.50"), ClaimedTotal: dec("350"),
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)

	// Nothing committed: balance, lots and movements are untouched.
	require.True(t, repo.balance(1, "PEN").Equal(dec("100")))
	require.Empty(t, repo.lots[lotKey(1, "USD")])
	require.Empty(t, repo.movements)
	require.Empty(t, repo.transactions)
}

func TestSellRealizesFIFOProfit(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("1000")})
	svc := newEngine(repo)

	buy(t, svc, 7, "USD", "100", "3.50")
	recorded := sell(t, svc, 7, "USD", "60", "3.60")

	require.NotNil(t, recorded.RealizedProfit)
	require.True(t, recorded.RealizedProfit.Equal(dec("6.00")),
		"got profit %s", recorded.RealizedProfit)
	require.True(t, recorded.HomeTotal.Equal(dec("216")))

	require.True(t, repo.balance(1, "PEN").Equal(dec("866")))
	require.True(t, repo.balance(1, "USD").Equal(dec("40")))
	require.True(t, repo.tills[1].AccumulatedProfit.Equal(dec("6.00")))

	remaining := repo.lots[lotKey(1, "USD")]
	require.Len(t, remaining, 1)
	require.True(t, remaining[0].Amount.Equal(dec("40")))
	require.True(t, remaining[0].Available)

	var cost, profitAmount decimal.Decimal
	for _, m := range repo.movements {
		switch {
		case m.Reason == till.ReasonSell && m.Currency == "PEN":
			cost = m.Amount
		case m.Reason == till.ReasonProfit:
			profitAmount = m.Amount
			require.Equal(t, till.DirectionIn, m.Direction)
		}
	}
	require.True(t, cost.Equal(dec("210")))
	require.True(t, profitAmount.Equal(dec("6.00")))
}

func TestSellSpansCostLayers(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("0"), "USD": dec("10")})
	repo.seedLot(1, "USD", dec("5"), dec("3.0"))
	repo.seedLot(1, "USD", dec("5"), dec("3.2"))
	svc := newEngine(repo)

	recorded := sell(t, svc, 7, "USD", "7", "3.60")

	// 5 units at 3.0 plus 2 at 3.2 cost 21.40; 7 * 3.60 = 25.20.
	require.True(t, recorded.RealizedProfit.Equal(dec("3.80")),
		"got profit %s", recorded.RealizedProfit)

	remaining := repo.lots[lotKey(1, "USD")]
	require.Len(t, remaining, 2)
	require.True(t, remaining[0].Amount.IsZero())
	require.False(t, remaining[0].Available)
	require.True(t, remaining[1].Amount.Equal(dec("3")))
	require.True(t, remaining[1].Available)
}

func TestSellShortfallFallsBackToBaseCost(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("0")})
	svc := newEngine(repo)

	recorded := sell(t, svc, 7, "EUR", "10", "4.20")

	// No inventory: the whole sale is valued at the registry base cost 4.00.
	require.True(t, recorded.RealizedProfit.Equal(dec("2.00")),
		"got profit %s", recorded.RealizedProfit)
	require.True(t, repo.balance(1, "PEN").Equal(dec("42")))
	// Foreign balance goes negative by policy; only warned.
	require.True(t, repo.balance(1, "EUR").Equal(dec("-10")))
}

func TestRecordValidationGates(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("100000")})
	svc := newEngine(repo)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{OperatorID: 7, Type: "SWAP", Currency: "USD", Amount: dec("1"), Rate: dec("3.50"), ClaimedTotal: dec("3.50")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{OperatorID: 7, Type: TypeBuy, Currency: "USD", Amount: dec("0"), Rate: dec("3.50"), ClaimedTotal: dec("0")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{OperatorID: 7, Type: TypeBuy, Currency: "PEN", Amount: dec("1"), Rate: dec("1"), ClaimedTotal: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{OperatorID: 7, Type: TypeBuy, Currency: "USD", Amount: dec("100"), Rate: dec("3.50"), ClaimedTotal: dec("340")})
	require.ErrorIs(t, err, shared.ErrInconsistentTotal)

	// 5.00 against a 3.50 reference is a 43% deviation.
	_, err = svc.Record(ctx, RecordInput{OperatorID: 7, Type: TypeBuy, Currency: "USD", Amount: dec("100"), Rate: dec("5.00"), ClaimedTotal: dec("500")})
	require.ErrorIs(t, err, shared.ErrRateOutOfRange)

	_, err = svc.Record(ctx, RecordInput{OperatorID: 7, Type: TypeBuy, Currency: "USD", Amount: dec("1000"), Rate: dec("3.50"), ClaimedTotal: dec("3500")})
	require.ErrorIs(t, err, shared.ErrCustomerRequired)

	recorded, err := svc.Record(ctx, RecordInput{OperatorID: 7, Type: TypeBuy, Currency: "USD", Amount: dec("1000"), Rate: dec("3.50"), ClaimedTotal: dec("3500"), Customer: "DNI 45879632"})
	require.NoError(t, err)
	require.NotNil(t, recorded.Customer)
	require.Equal(t, "DNI 45879632", *recorded.Customer)
}

func TestRecordWithoutOpenTill(t *testing.T) {
	svc := newEngine(newEngineRepo())

	_, err := svc.Record(context.Background(), RecordInput{
		OperatorID: 7, Type: TypeBuy, Currency: "USD",
		Amount: dec("10"), Rate: dec("3.50"), ClaimedTotal: dec("35"),
	})
	require.ErrorIs(t, err, shared.ErrNoOpenTill)
}

func TestVoidBuyRestoresBalances(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("1000")})
	svc := newEngine(repo)
	ctx := context.Background()

	recorded := buy(t, svc, 7, "USD", "100", "3.50")

	requested, err := svc.RequestVoid(ctx, 7, recorded.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoidRequested, requested.Status)

	approved, err := svc.ApproveVoid(ctx, 9, recorded.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, approved.Status)

	require.True(t, repo.balance(1, "PEN").Equal(dec("1000")))
	require.True(t, repo.balance(1, "USD").IsZero())

	// The buy's lot stays on record; inventory is append-only.
	require.Len(t, repo.lots[lotKey(1, "USD")], 1)

	voids := 0
	for _, m := range repo.movements {
		if m.Reason == till.ReasonVoid {
			voids++
		}
	}
	require.Equal(t, 2, voids)
}

func TestVoidBuyWarnsWhenUnitsAlreadySold(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("1000")})
	var logs bytes.Buffer
	svc := newEngineWithLogger(repo, slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	recorded := buy(t, svc, 7, "USD", "100", "3.50")
	sell(t, svc, 7, "USD", "100", "3.60")

	_, err := svc.RequestVoid(ctx, 7, recorded.ID)
	require.NoError(t, err)
	_, err = svc.ApproveVoid(ctx, 9, recorded.ID)
	require.NoError(t, err)

	// The sold units are gone, so the void drives the foreign balance
	// negative; warned like a sell shortfall, never blocked.
	require.True(t, repo.balance(1, "USD").Equal(dec("-100")))
	require.Contains(t, logs.String(), "void drives foreign balance negative")
}

func TestVoidSellRestoresInventoryAndProfit(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("1000")})
	svc := newEngine(repo)
	ctx := context.Background()

	buy(t, svc, 7, "USD", "100", "3.50")
	recorded := sell(t, svc, 7, "USD", "60", "3.60")

	_, err := svc.RequestVoid(ctx, 7, recorded.ID)
	require.NoError(t, err)
	_, err = svc.ApproveVoid(ctx, 9, recorded.ID)
	require.NoError(t, err)

	require.True(t, repo.balance(1, "PEN").Equal(dec("650")))
	require.True(t, repo.balance(1, "USD").Equal(dec("100")))
	require.True(t, repo.tills[1].AccumulatedProfit.IsZero())

	// A corrective lot carries the sale's cost basis back into inventory.
	created := repo.lots[lotKey(1, "USD")]
	require.Len(t, created, 2)
	corrective := created[1]
	require.True(t, corrective.Amount.Equal(dec("60")))
	require.True(t, corrective.UnitCost.Equal(dec("3.5")),
		"got unit cost %s", corrective.UnitCost)
}

func TestVoidStatusTransitions(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("1000")})
	svc := newEngine(repo)
	ctx := context.Background()

	recorded := buy(t, svc, 7, "USD", "100", "3.50")

	// Approving before a request is a conflict.
	_, err := svc.ApproveVoid(ctx, 9, recorded.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.RequestVoid(ctx, 7, recorded.ID)
	require.NoError(t, err)

	// Requesting twice is a conflict too.
	_, err = svc.RequestVoid(ctx, 7, recorded.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.ApproveVoid(ctx, 9, recorded.ID)
	require.NoError(t, err)

	_, err = svc.ApproveVoid(ctx, 9, recorded.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestVoidOnClosedTill(t *testing.T) {
	repo := newEngineRepo()
	repo.openTill(1, 7, map[string]decimal.Decimal{"PEN": dec("1000")})
	svc := newEngine(repo)
	ctx := context.Background()

	recorded := buy(t, svc, 7, "USD", "100", "3.50")

	closed := repo.tills[1]
	closed.State = till.StateClosed
	repo.tills[1] = closed

	_, err := svc.RequestVoid(ctx, 7, recorded.ID)
	require.ErrorIs(t, err, shared.ErrTillClosed)
}
