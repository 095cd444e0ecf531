package types

import (
	"errors"
	"fmt"
)

// ErrorKind represents the categories of errors the ledger surfaces
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NotFound"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindUnauthenticated   ErrorKind = "Unauthenticated"
	KindAlreadyRegistered ErrorKind = "AlreadyRegistered"
	KindAlreadyClosed     ErrorKind = "AlreadyClosed"
	KindCaseClosed        ErrorKind = "CaseClosed"
	KindInvalidArgument   ErrorKind = "InvalidArgument"
	KindConflict          ErrorKind = "Conflict"
	KindInternal          ErrorKind = "Internal"
)

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeAlreadyRegistered = "ALREADY_REGISTERED"
	ErrCodeAlreadyClosed     = "ALREADY_CLOSED"
	ErrCodeCaseClosed        = "CASE_CLOSED"
	ErrCodeInvalidArgument   = "INVALID_ARGUMENT"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrNotFound          = &LedgerError{Kind: KindNotFound, Code: ErrCodeNotFound}
	ErrUnauthorized      = &LedgerError{Kind: KindUnauthorized, Code: ErrCodeUnauthorized}
	ErrUnauthenticated   = &LedgerError{Kind: KindUnauthenticated, Code: ErrCodeUnauthenticated}
	ErrAlreadyRegistered = &LedgerError{Kind: KindAlreadyRegistered, Code: ErrCodeAlreadyRegistered}
	ErrAlreadyClosed     = &LedgerError{Kind: KindAlreadyClosed, Code: ErrCodeAlreadyClosed}
	ErrCaseClosed        = &LedgerError{Kind: KindCaseClosed, Code: ErrCodeCaseClosed}
	ErrInvalidArgument   = &LedgerError{Kind: KindInvalidArgument, Code: ErrCodeInvalidArgument}
	ErrConflict          = &LedgerError{Kind: KindConflict, Code: ErrCodeConflict}
	ErrInternal          = &LedgerError{Kind: KindInternal, Code: ErrCodeInternalError}
)

// LedgerError represents a structured error in the case ledger
type LedgerError struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a LedgerError of the same kind.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, details map[string]interface{}) *LedgerError {
	return &LedgerError{Kind: KindNotFound, Code: ErrCodeNotFound, Message: message, Details: details}
}

// NewUnauthorizedError creates a new authorization error
func NewUnauthorizedError(message string) *LedgerError {
	return &LedgerError{Kind: KindUnauthorized, Code: ErrCodeUnauthorized, Message: message}
}

// NewUnauthenticatedError creates an error for a request without a usable signer identity
func NewUnauthenticatedError(message string, cause error) *LedgerError {
	return &LedgerError{Kind: KindUnauthenticated, Code: ErrCodeUnauthenticated, Message: message, Cause: cause}
}

// NewAlreadyRegisteredError creates a new duplicate registration error
func NewAlreadyRegisteredError(account Account) *LedgerError {
	return &LedgerError{
		Kind:    KindAlreadyRegistered,
		Code:    ErrCodeAlreadyRegistered,
		Message: "account already has a patient profile",
		Details: map[string]interface{}{"account": string(account)},
	}
}

// NewAlreadyClosedError creates an error for closing a case twice
func NewAlreadyClosedError(caseID uint64) *LedgerError {
	return &LedgerError{
		Kind:    KindAlreadyClosed,
		Code:    ErrCodeAlreadyClosed,
		Message: fmt.Sprintf("case %d is already closed", caseID),
		Details: map[string]interface{}{"case_id": caseID},
	}
}

// NewCaseClosedError creates an error for mutating a closed case
func NewCaseClosedError(caseID uint64) *LedgerError {
	return &LedgerError{
		Kind:    KindCaseClosed,
		Code:    ErrCodeCaseClosed,
		Message: fmt.Sprintf("case %d is closed", caseID),
		Details: map[string]interface{}{"case_id": caseID},
	}
}

// NewInvalidArgumentError creates a new validation error
func NewInvalidArgumentError(field, message string) *LedgerError {
	return &LedgerError{
		Kind:    KindInvalidArgument,
		Code:    ErrCodeInvalidArgument,
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

// NewConflictError reports that key changed after a transaction read it
func NewConflictError(key string) *LedgerError {
	return &LedgerError{
		Kind:    KindConflict,
		Code:    ErrCodeConflict,
		Message: "world state changed concurrently",
		Details: map[string]interface{}{"key": key},
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *LedgerError {
	return &LedgerError{Kind: KindInternal, Code: ErrCodeInternalError, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}
