package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// RetryAfterSeconds is sent with 503 responses when a shop's balance lock is contended.
const RetryAfterSeconds = 1

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation or balance details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	var details map[string]string
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		details = make(map[string]string, len(fieldErrs))
		for _, err := range fieldErrs {
			details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}
	writeError(w, statusCode, ErrorResponse{Error: message, Details: details})
}

// SendServiceError maps a ledger or reward error to its HTTP status.
func SendServiceError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: insufficient.Error(),
			Details: map[string]string{
				"required":  insufficient.Required.String(),
				"available": insufficient.Available.String(),
			},
		})
	case errors.Is(err, ErrShopNotFound):
		SendErrorResponse(w, ErrShopNotFound.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrShopExists):
		SendErrorResponse(w, ErrShopExists.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrDuplicateReward):
		SendErrorResponse(w, ErrDuplicateReward.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidReward):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, ErrLedgerBusy):
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		SendErrorResponse(w, ErrLedgerBusy.Error(), http.StatusServiceUnavailable, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
