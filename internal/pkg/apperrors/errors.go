package apperrors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type ErrorType string

const (
	ErrMalformedOrder     ErrorType = "MALFORMED_ORDER"
	ErrOrderExpired       ErrorType = "ORDER_EXPIRED"
	ErrAlreadyProcessed   ErrorType = "ALREADY_PROCESSED"
	ErrProofNotReady      ErrorType = "PROOF_NOT_READY"
	ErrDomainRPC          ErrorType = "DOMAIN_RPC_FAILURE"
	ErrInvariantViolation ErrorType = "INVARIANT_VIOLATION"
	ErrUnsupportedDomain  ErrorType = "UNSUPPORTED_DOMAIN"
	ErrInvalidRequest     ErrorType = "INVALID_REQUEST"
	ErrNotFound           ErrorType = "NOT_FOUND"
	ErrInternal           ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewMalformedOrder(msg string) *AppError {
	return New(ErrMalformedOrder, msg, nil)
}

func NewOrderExpired(msg string) *AppError {
	return New(ErrOrderExpired, msg, nil)
}

func NewAlreadyProcessed(msg string) *AppError {
	return New(ErrAlreadyProcessed, msg, nil)
}

func NewProofNotReady(msg string) *AppError {
	return New(ErrProofNotReady, msg, nil)
}

func NewInvariantViolation(msg string) *AppError {
	return New(ErrInvariantViolation, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

// DomainRPC wraps a failed call against a domain node or wallet.
func DomainRPC(domain string, op string, cause error) *AppError {
	return New(ErrDomainRPC, fmt.Sprintf("%s: %s failed", domain, op), cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// Is reports whether any error in err's chain is an AppError of the given type.
func Is(err error, t ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == t
}

// TypeOf returns the AppError type of err, or ErrInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}

// LogLevel maps an error to the level it should be logged at by task loops.
// Expected conditions stay below warn so they do not page anyone.
func LogLevel(err error) slog.Level {
	switch TypeOf(err) {
	case ErrAlreadyProcessed, ErrProofNotReady:
		return slog.LevelDebug
	case ErrOrderExpired:
		return slog.LevelInfo
	case ErrDomainRPC:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrMalformedOrder, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyProcessed, ErrInvariantViolation:
		return http.StatusConflict
	case ErrOrderExpired:
		return http.StatusGone
	case ErrUnsupportedDomain:
		return http.StatusUnprocessableEntity
	case ErrProofNotReady:
		return http.StatusAccepted
	case ErrDomainRPC:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrMalformedOrder:
		return "Check the order encoding against the 301 byte layout."
	case ErrProofNotReady:
		return "Wait for the anchor to advance past the fill."
	case ErrDomainRPC:
		return "Retried on the next tick."
	case ErrInvariantViolation:
		return "Inspect the on-chain logs for this order."
	case ErrUnsupportedDomain:
		return "Add the domain to the relayer configuration."
	default:
		return ""
	}
}
