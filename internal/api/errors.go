package api

import (
	"errors"
	"net/http"

	"github.com/trogers1052/item-price-sync/internal/database"
	"github.com/trogers1052/item-price-sync/internal/ledger"
)

// apiError is the JSON error body: {"error": kind, "message": text}
type apiError struct {
	status  int
	kind    string
	message string
}

func (e *apiError) Error() string {
	return e.message
}

func badRequest(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, kind: "invalid_request", message: message}
}

// classify maps domain errors onto HTTP statuses
func classify(err error) *apiError {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, database.ErrItemNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInsufficientStock):
		status, kind = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, database.ErrInventoryEntryExists):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidPrice):
		status, kind = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ledger.ErrPriceUnavailable):
		status, kind = http.StatusUnprocessableEntity, "price_unavailable"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	return &apiError{status: status, kind: kind, message: message}
}

func respondError(w http.ResponseWriter, err error) {
	apiErr := classify(err)
	respondJSON(w, apiErr.status, map[string]string{
		"error":   apiErr.kind,
		"message": apiErr.message,
	})
}
