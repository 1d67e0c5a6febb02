// Package lots maintains the append-only inventory of foreign-currency
// acquisition lots. Lots are never merged or deleted; sales drain them in
// acquisition order and fully consumed lots persist with amount zero.
package lots

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot is a discrete acquisition of foreign currency at a specific unit cost.
type Lot struct {
	ID         uuid.UUID       `json:"id"`
	TillID     int64           `json:"tillId"`
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	UnitCost   decimal.Decimal `json:"unitCost"`
	AcquiredAt time.Time       `json:"acquiredAt"`
	Available  bool            `json:"available"`
}

// Consumption is the outcome of a FIFO walk over available lots.
type Consumption struct {
	// Consumed is the total quantity actually drained from lots.
	Consumed decimal.Decimal
	// Short is the requested remainder the inventory could not satisfy.
	Short decimal.Decimal
	// CostBasis is sum(consumed_i * unitCost_i) over touched lots.
	CostBasis decimal.Decimal
	// AvgUnitCost is CostBasis / Consumed; zero when nothing was consumed.
	AvgUnitCost decimal.Decimal
	// Touched holds the lots that were drained, with updated amounts.
	Touched []Lot
}

// Consume walks lots in the given order (callers pass them oldest first),
// draining from each the minimum of its remaining amount and the still-needed
// quantity. The weighted-average unit cost is computed over touched lots
// only, so a single sale spanning several cost layers is priced
// deterministically.
func Consume(available []Lot, amount decimal.Decimal) Consumption {
	need := amount
	result := Consumption{
		Consumed:    decimal.Zero,
		Short:       decimal.Zero,
		CostBasis:   decimal.Zero,
		AvgUnitCost: decimal.Zero,
	}

	for i := range available {
		if need.Sign() <= 0 {
			break
		}
		lot := available[i]
		take := decimal.Min(lot.Amount, need)
		if take.Sign() <= 0 {
			continue
		}
		lot.Amount = lot.Amount.Sub(take)
		if lot.Amount.Sign() == 0 {
			lot.Available = false
		}
		result.Consumed = result.Consumed.Add(take)
		result.CostBasis = result.CostBasis.Add(take.Mul(lot.UnitCost))
		result.Touched = append(result.Touched, lot)
		need = need.Sub(take)
	}

	result.Short = need
	if result.Consumed.Sign() > 0 {
		result.AvgUnitCost = result.CostBasis.Div(result.Consumed)
	}
	return result
}
