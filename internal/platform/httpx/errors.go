package httpx

import (
	"errors"
	"net/http"

	"github.com/cambix/cambix/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Every rejected operation surfaces a specific kind and a readable message.
func RespondError(w http.ResponseWriter, err error) {
	msg := shared.UserSafeMessage(err)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", msg)
	case errors.Is(err, shared.ErrAlreadyOpen):
		Problem(w, http.StatusConflict, "Till Already Open", msg)
	case errors.Is(err, shared.ErrNoOpenTill):
		Problem(w, http.StatusConflict, "No Open Till", msg)
	case errors.Is(err, shared.ErrTillClosed):
		Problem(w, http.StatusConflict, "Till Closed", msg)
	case errors.Is(err, shared.ErrPendingWork):
		Problem(w, http.StatusConflict, "Pending Work", msg)
	case errors.Is(err, shared.ErrCurrencyInUse):
		Problem(w, http.StatusConflict, "Currency In Use", msg)
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", msg)
	case errors.Is(err, shared.ErrBusy):
		Problem(w, http.StatusLocked, "Busy", msg)
	case errors.Is(err, shared.ErrInsufficientFunds):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Funds", msg)
	case errors.Is(err, shared.ErrInconsistentTotal):
		Problem(w, http.StatusUnprocessableEntity, "Inconsistent Total", msg)
	case errors.Is(err, shared.ErrRateOutOfRange):
		Problem(w, http.StatusUnprocessableEntity, "Rate Out Of Range", msg)
	case errors.Is(err, shared.ErrCustomerRequired):
		Problem(w, http.StatusUnprocessableEntity, "Customer Required", msg)
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", msg)
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", msg)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
