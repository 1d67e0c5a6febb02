package shared

import "errors"

var (
	// ErrNotFound indicates a missing currency, till, lot or transaction.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyOpen indicates the operator already has an open till.
	ErrAlreadyOpen = errors.New("till already open for operator")
	// ErrNoOpenTill indicates the operator has no open till.
	ErrNoOpenTill = errors.New("no open till for operator")
	// ErrTillClosed indicates a mutation against a closed till.
	ErrTillClosed = errors.New("till is closed")
	// ErrInsufficientFunds indicates a balance would go negative on a hard-blocked flow.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInconsistentTotal indicates the claimed home total deviates from amount*rate.
	ErrInconsistentTotal = errors.New("inconsistent home total")
	// ErrRateOutOfRange indicates the applied rate deviates too far from the reference rate.
	ErrRateOutOfRange = errors.New("rate out of allowed range")
	// ErrCustomerRequired indicates a large transaction without customer identification.
	ErrCustomerRequired = errors.New("customer required for large transaction")
	// ErrBusy indicates lock contention on the till; the caller may retry.
	ErrBusy = errors.New("till busy, try again")
	// ErrPendingWork indicates the till has unresolved void requests and cannot close.
	ErrPendingWork = errors.New("till has pending work")
	// ErrCurrencyInUse indicates the currency is referenced by transactions or lots.
	ErrCurrencyInUse = errors.New("currency in use")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = errors.New("unauthorized")
)

// UserSafeMessage returns a message suitable for API consumers. Domain
// sentinels carry their own text; anything else is masked.
func UserSafeMessage(err error) string {
	for _, known := range []error{
		ErrNotFound, ErrAlreadyOpen, ErrNoOpenTill, ErrTillClosed,
		ErrInsufficientFunds, ErrInconsistentTotal, ErrRateOutOfRange,
		ErrCustomerRequired, ErrBusy, ErrPendingWork, ErrCurrencyInUse,
		ErrConflict, ErrValidation, ErrUnauthorized,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}
