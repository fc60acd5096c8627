package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/runtime"
	"vaulttoken/native/vault"
)

var errIndexerDisabled = errors.New("event indexer is not configured")

// statusFor maps the failure taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidArguments),
		errors.Is(err, coreerrors.ErrInvalidAmount),
		errors.Is(err, coreerrors.ErrInvalidAccountID),
		errors.Is(err, runtime.ErrMethodNotFound),
		errors.Is(err, runtime.ErrInvalidPromise),
		errors.Is(err, runtime.ErrProhibitedInView):
		return http.StatusBadRequest
	case errors.Is(err, coreerrors.ErrAccessDenied),
		errors.Is(err, runtime.ErrContractSigner):
		return http.StatusForbidden
	case errors.Is(err, coreerrors.ErrVaultNotFound),
		errors.Is(err, coreerrors.ErrNotRegistered),
		errors.Is(err, coreerrors.ErrUnregisteredAccount),
		errors.Is(err, runtime.ErrUnknownReceipt),
		errors.Is(err, runtime.ErrNoContract):
		return http.StatusNotFound
	case errors.Is(err, coreerrors.ErrAlreadyRegistered),
		errors.Is(err, coreerrors.ErrAlreadyInitialized),
		errors.Is(err, coreerrors.ErrDuplicateVault),
		errors.Is(err, coreerrors.ErrNonZeroBalance):
		return http.StatusConflict
	case errors.Is(err, coreerrors.ErrInsufficientDeposit),
		errors.Is(err, runtime.ErrInsufficientNativeBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, coreerrors.ErrInsufficientBalance),
		errors.Is(err, coreerrors.ErrInsufficientVaultBalance),
		errors.Is(err, coreerrors.ErrBalanceOverflow),
		errors.Is(err, runtime.ErrGasExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coreerrors.ErrNotInitialized),
		errors.Is(err, errIndexerDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" || status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
