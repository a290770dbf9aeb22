package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Drip error code.
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"       // 400
	ErrAuthRequired         ErrorCode = "AUTH_REQUIRED"         // 401
	ErrProRequired          ErrorCode = "PRO_REQUIRED"          // 402
	ErrNotFound             ErrorCode = "NOT_FOUND"             // 404
	ErrBusy                 ErrorCode = "BUSY"                  // 409
	ErrQuotaExceeded        ErrorCode = "QUOTA_EXCEEDED"        // 429
	ErrCancelled            ErrorCode = "CANCELLED"             // 499
	ErrInternal             ErrorCode = "INTERNAL"              // 500
	ErrExportFailed         ErrorCode = "EXPORT_FAILED"         // 500
	ErrTransformationFailed ErrorCode = "TRANSFORMATION_FAILED" // 502
	ErrCheckoutFailed       ErrorCode = "CHECKOUT_FAILED"       // 502
	ErrDataLoadFailed       ErrorCode = "DATA_LOAD_FAILED"      // 503
)

// UpgradeCommand is the CLI hint attached to quota and plan errors.
const UpgradeCommand = "drip upgrade"

// DripError represents a structured error with code, status, and details.
// Cause holds the underlying error for logging; it is never shown to users.
type DripError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *DripError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *DripError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *DripError {
	return &DripError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewAuthRequired creates a 401 error for operations that need a signed-in user.
func NewAuthRequired() *DripError {
	return &DripError{
		Code:    ErrAuthRequired,
		Status:  401,
		Message: "sign in required; run 'drip login --email <address>'",
	}
}

// NewProRequired creates a 402 error for Pro-only features.
func NewProRequired(feature string) *DripError {
	return &DripError{
		Code:    ErrProRequired,
		Status:  402,
		Message: fmt.Sprintf("%s is a Pro feature", feature),
		Details: map[string]any{"feature": feature, "upgrade_command": UpgradeCommand},
	}
}

// NewNotFound creates a 404 error for when a record cannot be found.
func NewNotFound(identifier string) *DripError {
	return &DripError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("email not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewBusy creates a 409 error when a submission is already in flight.
func NewBusy() *DripError {
	return &DripError{
		Code:    ErrBusy,
		Status:  409,
		Message: "a rewrite is already in progress",
	}
}

// NewQuotaExceeded creates a 429 error when the daily free limit is reached.
func NewQuotaExceeded(used, limit int) *DripError {
	return &DripError{
		Code:    ErrQuotaExceeded,
		Status:  429,
		Message: fmt.Sprintf("daily limit reached (%d/%d); upgrade to Pro for unlimited emails", used, limit),
		Details: map[string]any{"usage": used, "limit": limit, "upgrade_command": UpgradeCommand},
	}
}

// NewCancelled creates a 499 error for operations abandoned before completion.
func NewCancelled(operation string) *DripError {
	return &DripError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *DripError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &DripError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// NewExportFailed creates a 500 error for encoding or write failures during export.
func NewExportFailed(err error) *DripError {
	msg := "export failed"
	if err != nil {
		msg = fmt.Sprintf("export failed: %v", err)
	}
	return &DripError{
		Code:    ErrExportFailed,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// NewTransformationFailed creates a 502 error for rewrite service failures.
// The message is deliberately generic; the cause is kept for logs.
func NewTransformationFailed(err error) *DripError {
	return &DripError{
		Code:    ErrTransformationFailed,
		Status:  502,
		Message: "something went wrong rewriting your email; please try again",
		Cause:   err,
	}
}

// NewCheckoutFailed creates a 502 error for billing failures.
// msg is the billing service's own message when it sent one.
func NewCheckoutFailed(msg string, err error) *DripError {
	if msg == "" {
		msg = "failed to create checkout session"
	}
	return &DripError{
		Code:    ErrCheckoutFailed,
		Status:  502,
		Message: msg,
		Cause:   err,
	}
}

// NewDataLoadFailed creates a 503 error for usage, plan or history fetch failures.
func NewDataLoadFailed(what string, err error) *DripError {
	return &DripError{
		Code:    ErrDataLoadFailed,
		Status:  503,
		Message: fmt.Sprintf("failed to load %s", what),
		Details: map[string]any{"resource": what},
		Cause:   err,
	}
}

// Is checks if an error is (or wraps) a DripError with the given code.
func Is(err error, code ErrorCode) bool {
	var dErr *DripError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// As returns the DripError in err's chain, if any.
func As(err error) (*DripError, bool) {
	var dErr *DripError
	if stderrors.As(err, &dErr) {
		return dErr, true
	}
	return nil, false
}
