package repositories

import "fmt"

// LoyaltyErrorCode enumerates repository error causes for loyalty point movements.
type LoyaltyErrorCode string

const (
	// LoyaltyErrorUnknown represents an unspecified failure.
	LoyaltyErrorUnknown LoyaltyErrorCode = "loyalty_unknown"
	// LoyaltyErrorUserNotFound indicates the account document is missing.
	LoyaltyErrorUserNotFound LoyaltyErrorCode = "loyalty_user_not_found"
	// LoyaltyErrorInsufficientBalance indicates the debit exceeds the balance.
	LoyaltyErrorInsufficientBalance LoyaltyErrorCode = "loyalty_insufficient_balance"
	// LoyaltyErrorInvalidInput indicates the caller supplied invalid arguments.
	LoyaltyErrorInvalidInput LoyaltyErrorCode = "loyalty_invalid_input"
)

// LoyaltyError wraps loyalty-specific failures with machine readable codes.
type LoyaltyError struct {
	Op      string
	Code    LoyaltyErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LoyaltyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LoyaltyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLoyaltyError constructs a typed loyalty error.
func NewLoyaltyError(code LoyaltyErrorCode, message string, err error) *LoyaltyError {
	if message == "" {
		message = string(code)
	}
	return &LoyaltyError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
