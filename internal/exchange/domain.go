// Package exchange is the transaction engine: it orchestrates buy and sell
// operations against the till's balances and the FIFO lot inventory, all
// inside one unit of work per transaction.
package exchange

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type enumerates transaction types.
type Type string

const (
	TypeBuy  Type = "BUY"
	TypeSell Type = "SELL"
)

// Status tracks the void lifecycle. Transactions are immutable apart from
// this flag; a void never edits the original, it appends inverse entries.
type Status string

const (
	StatusNormal        Status = "NORMAL"
	StatusVoidRequested Status = "VOID_REQUESTED"
	StatusVoided        Status = "VOIDED"
)

// Transaction is one buy or sell against a till, immutable once created.
// Duplicate submissions produce duplicate transactions, matching real-world
// receipt issuance; idempotency is deliberately not assumed.
type Transaction struct {
	ID             uuid.UUID        `json:"id"`
	TillID         int64            `json:"tillId"`
	Type           Type             `json:"type"`
	Currency       string           `json:"currency"`
	Amount         decimal.Decimal  `json:"amount"`
	Rate           decimal.Decimal  `json:"rate"`
	HomeTotal      decimal.Decimal  `json:"homeTotal"`
	RealizedProfit *decimal.Decimal `json:"realizedProfit,omitempty"`
	Customer       *string          `json:"customer,omitempty"`
	OperatorID     int64            `json:"operatorId"`
	Status         Status           `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// RecordInput describes a buy or sell to record.
type RecordInput struct {
	OperatorID int64
	Type       Type
	Currency   string
	Amount     decimal.Decimal
	Rate       decimal.Decimal
	// ClaimedTotal is the home total computed by the caller; it must match
	// round(amount*rate, 2) within the configured tolerance.
	ClaimedTotal decimal.Decimal
	Customer     string
}

// CostBasisUnit recovers the per-unit cost the sale was priced at. Used by
// the void flow to restore inventory at the original valuation.
func (t Transaction) CostBasisUnit() decimal.Decimal {
	if t.Type != TypeSell || t.RealizedProfit == nil || t.Amount.Sign() == 0 {
		return decimal.Zero
	}
	return t.HomeTotal.Sub(*t.RealizedProfit).Div(t.Amount)
}
