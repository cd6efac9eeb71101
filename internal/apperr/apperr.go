// Package apperr defines the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindSignature
	KindDependency
)

// Machine-readable codes returned to clients.
const (
	CodeValidation              = "VALIDATION_FAILED"
	CodeOutOfStock              = "OUT_OF_STOCK"
	CodeProductUnavailable      = "PRODUCT_UNAVAILABLE"
	CodeNotFound                = "NOT_FOUND"
	CodeForbidden               = "FORBIDDEN"
	CodeSignatureMismatch       = "SIGNATURE_MISMATCH"
	CodeDuplicateRefund         = "DUPLICATE_REFUND"
	CodeAlreadyProcessed        = "ALREADY_PROCESSED"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeInvalidState            = "INVALID_STATE"
	CodeReturnWindowExpired     = "RETURN_WINDOW_EXPIRED"
	CodePaymentProcessingFailed = "PAYMENT_PROCESSING_FAILED"
	CodeGatewayUnavailable      = "GATEWAY_UNAVAILABLE"
	CodeInternal                = "INTERNAL"
)

// Error is a classified error with a machine code and a message safe to show
// to the caller. Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code so errors.Is works against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound          = &Error{Kind: KindNotFound, Code: CodeNotFound}
	ErrSignatureMismatch = &Error{Kind: KindSignature, Code: CodeSignatureMismatch}
)

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, CodeValidation, format, args...)
}

func OutOfStock(product string, available int) *Error {
	return newf(KindValidation, CodeOutOfStock, "insufficient stock for %s, available: %d", product, available)
}

func ProductUnavailable(product string) *Error {
	return newf(KindValidation, CodeProductUnavailable, "product %s is not available", product)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, CodeNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, CodeForbidden, format, args...)
}

func SignatureMismatch() *Error {
	return newf(KindSignature, CodeSignatureMismatch, "payment signature verification failed")
}

func DuplicateRefund(orderID string) *Error {
	return newf(KindConflict, CodeDuplicateRefund, "a refund already exists for order %s", orderID)
}

func AlreadyProcessed(refundID string) *Error {
	return newf(KindConflict, CodeAlreadyProcessed, "refund %s has already been processed", refundID)
}

func InvalidTransition(from, to any) *Error {
	return newf(KindConflict, CodeInvalidTransition, "cannot move order from %v to %v", from, to)
}

func InvalidState(format string, args ...any) *Error {
	return newf(KindConflict, CodeInvalidState, format, args...)
}

func ReturnWindowExpired(days int) *Error {
	return newf(KindConflict, CodeReturnWindowExpired, "return window of %d days has expired", days)
}

// PaymentProcessingFailed reports that the completion unit rolled back.
// The payment intent is left PENDING so a later delivery can retry.
func PaymentProcessingFailed(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodePaymentProcessingFailed,
		Message: "payment could not be applied, it will be retried",
		Err:     err,
	}
}

// Dependency wraps a failure of an external collaborator.
func Dependency(err error, format string, args ...any) *Error {
	e := newf(KindDependency, CodeGatewayUnavailable, format, args...)
	e.Err = err
	return e
}

// From extracts an *Error from err's chain. Unclassified errors become Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// KindOf returns the Kind of err, or KindInternal when it is unclassified.
func KindOf(err error) Kind {
	return From(err).Kind
}

// HTTPStatus maps a Kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
