package repositories

import "fmt"

// DiscountErrorCode enumerates repository error causes for discount redemption.
type DiscountErrorCode string

const (
	// DiscountErrorUnknown represents an unspecified failure.
	DiscountErrorUnknown DiscountErrorCode = "discount_unknown"
	// DiscountErrorNotFound indicates the code does not exist or is inactive.
	DiscountErrorNotFound DiscountErrorCode = "discount_not_found"
	// DiscountErrorUsageExceeded indicates the usage limit has been reached.
	DiscountErrorUsageExceeded DiscountErrorCode = "discount_usage_exceeded"
	// DiscountErrorAlreadyUsed indicates the user already redeemed the code.
	DiscountErrorAlreadyUsed DiscountErrorCode = "discount_already_used"
	// DiscountErrorInvalidInput indicates the caller supplied invalid arguments.
	DiscountErrorInvalidInput DiscountErrorCode = "discount_invalid_input"
)

// DiscountError wraps redemption failures with machine readable codes.
type DiscountError struct {
	Op      string
	Code    DiscountErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DiscountError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *DiscountError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewDiscountError constructs a typed discount error.
func NewDiscountError(code DiscountErrorCode, message string, err error) *DiscountError {
	if message == "" {
		message = string(code)
	}
	return &DiscountError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
