package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cambix/cambix/internal/exchange"
	"github.com/cambix/cambix/internal/lots"
	"github.com/cambix/cambix/internal/shared"
	"github.com/cambix/cambix/internal/till"
)

type fakeTills struct {
	tills    map[int64]till.Till
	balances map[int64][]till.Balance
	getCalls int
}

func (f *fakeTills) GetByID(_ context.Context, tillID int64) (till.Till, error) {
	f.getCalls++
	t, ok := f.tills[tillID]
	if !ok {
		return till.Till{}, fmt.Errorf("%w: till %d", shared.ErrNotFound, tillID)
	}
	return t, nil
}

func (f *fakeTills) ListOpen(context.Context) ([]till.Till, error) {
	var out []till.Till
	for _, t := range f.tills {
		if t.State == till.StateOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTills) ListBalances(_ context.Context, tillID int64) ([]till.Balance, error) {
	return f.balances[tillID], nil
}

func (f *fakeTills) ListMovements(context.Context, int64, int) ([]till.Movement, error) {
	return []till.Movement{{ID: 1, Reason: till.ReasonOpening}}, nil
}

type fakeTransactions struct{ byTill map[int64][]exchange.Transaction }

func (f fakeTransactions) ListByTill(_ context.Context, tillID int64, _ int) ([]exchange.Transaction, error) {
	return f.byTill[tillID], nil
}

type fakeLots struct{}

func (fakeLots) ListByTill(context.Context, int64) ([]lots.Lot, error) {
	return []lots.Lot{{Currency: "USD", Amount: dec("40"), UnitCost: dec("3.50"), Available: true}}, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newFixture(t *testing.T, ttl time.Duration) (*Service, *fakeTills) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tills := &fakeTills{
		tills: map[int64]till.Till{
			1: {ID: 1, OperatorID: 7, State: till.StateOpen, AccumulatedProfit: dec("6.00")},
			2: {ID: 2, OperatorID: 8, State: till.StateClosed, AccumulatedProfit: decimal.Zero},
		},
		balances: map[int64][]till.Balance{
			1: {
				{TillID: 1, Currency: "PEN", Opening: dec("1000"), Current: dec("866")},
				{TillID: 1, Currency: "USD", Opening: dec("0"), Current: dec("40")},
			},
		},
	}
	transactions := fakeTransactions{byTill: map[int64][]exchange.Transaction{
		1: {{TillID: 1, Type: exchange.TypeBuy}, {TillID: 1, Type: exchange.TypeSell}},
	}}
	svc := NewService(tills, transactions, fakeLots{}, cache, ttl, "PEN", slog.Default())
	return svc, tills
}

func TestSnapshotAssemblesReadModel(t *testing.T) {
	svc, _ := newFixture(t, 0)

	snap, err := svc.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Till.ID)
	require.Len(t, snap.Balances, 2)
	require.Len(t, snap.Transactions, 2)
	require.Len(t, snap.Lots, 1)
	require.False(t, snap.GeneratedAt.IsZero())

	require.True(t, strings.HasPrefix(snap.Summary, "Caja 1:"), "summary %q", snap.Summary)
	require.Contains(t, snap.Summary, "PEN")
	require.Contains(t, snap.Summary, "2 operaciones")
}

func TestSnapshotServedFromCache(t *testing.T) {
	svc, tills := newFixture(t, time.Minute)
	ctx := context.Background()

	first, err := svc.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, tills.getCalls)

	second, err := svc.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, tills.getCalls, "second read must hit the cache")
	require.Equal(t, first.Summary, second.Summary)
}

func TestSnapshotUnknownTill(t *testing.T) {
	svc, _ := newFixture(t, 0)

	_, err := svc.Snapshot(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWarmupOpenSkipsClosedTills(t *testing.T) {
	svc, tills := newFixture(t, time.Minute)

	warmed, err := svc.WarmupOpen(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, warmed)
	require.Equal(t, 1, tills.getCalls)

	// The warmed snapshot serves subsequent reads without a rebuild.
	_, err = svc.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, tills.getCalls)
}
