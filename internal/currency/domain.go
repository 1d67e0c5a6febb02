package currency

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/shared"
)

// Currency is a registry row: reference buy/sell rates plus an optional
// base acquisition cost used as fallback valuation when inventory runs short.
type Currency struct {
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	BuyRate   decimal.Decimal  `json:"buyRate"`
	SellRate  decimal.Decimal  `json:"sellRate"`
	BaseCost  *decimal.Decimal `json:"baseCost,omitempty"`
	IsHome    bool             `json:"isHome"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// CreateInput describes a new registry entry.
type CreateInput struct {
	Code     string
	Name     string
	BuyRate  decimal.Decimal
	SellRate decimal.Decimal
	BaseCost *decimal.Decimal
}

// Quote is a reference rate pair delivered by the rate feed.
type Quote struct {
	Code string          `json:"code"`
	Buy  decimal.Decimal `json:"buy"`
	Sell decimal.Decimal `json:"sell"`
}

var codePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// maxRate bounds reference rates to a sane trading range.
var maxRate = decimal.NewFromInt(10000)

// ValidateCode checks the 3-letter upper-case code format.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: currency code must be 3 upper-case letters", shared.ErrValidation)
	}
	return nil
}

// ValidateRates checks that both rates are positive and bounded.
func ValidateRates(buy, sell decimal.Decimal) error {
	for _, r := range []decimal.Decimal{buy, sell} {
		if r.Sign() <= 0 || r.GreaterThan(maxRate) {
			return fmt.Errorf("%w: rate must be positive and at most %s", shared.ErrValidation, maxRate)
		}
	}
	return nil
}
