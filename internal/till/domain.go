// Package till owns the cash-register lifecycle: one OPEN till per operator,
// per-currency balances, and the immutable movement log mirroring every
// balance change.
package till

import (
	"time"

	"github.com/shopspring/decimal"
)

// State enumerates till lifecycle states. CLOSED is terminal.
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
)

// Direction enumerates movement directions.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Movement reasons. Spanish on purpose: they are printed on receipts and
// reports for the exchange business.
const (
	ReasonOpening = "APERTURA"
	ReasonBuy     = "COMPRA"
	ReasonSell    = "VENTA"
	ReasonProfit  = "UTILIDAD"
	ReasonAdjust  = "AJUSTE"
	ReasonVoid    = "ANULACION"
)

// Till is a single cashier's drawer session across multiple currencies.
type Till struct {
	ID                int64           `json:"id"`
	OperatorID        int64           `json:"operatorId"`
	State             State           `json:"state"`
	OpenedAt          time.Time       `json:"openedAt"`
	ClosedAt          *time.Time      `json:"closedAt,omitempty"`
	ClosedBy          *int64          `json:"closedBy,omitempty"`
	AccumulatedProfit decimal.Decimal `json:"accumulatedProfit"`
}

// Balance tracks one currency inside a till. Rows materialize lazily, zeroed,
// the first time a currency is touched.
type Balance struct {
	TillID   int64           `json:"tillId"`
	Currency string          `json:"currency"`
	Opening  decimal.Decimal `json:"openingAmount"`
	Current  decimal.Decimal `json:"currentAmount"`
}

// Movement is an immutable, append-only record of one directional balance
// change. Movements are never edited or deleted.
type Movement struct {
	ID        int64           `json:"id"`
	TillID    int64           `json:"tillId"`
	Currency  string          `json:"currency"`
	Direction Direction       `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Note      string          `json:"note,omitempty"`
	ActorID   int64           `json:"actorId"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AdjustInput describes a direct balance correction outside buy/sell flow.
type AdjustInput struct {
	OperatorID int64
	Currency   string
	Direction  Direction
	Amount     decimal.Decimal
	Note       string
}
