// Package apperr defines the typed failures the payment core surfaces to its
// callers. Handlers translate kinds into HTTP status codes; everything that
// is not a recognised AppError maps to an internal error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Invalid  Kind = "invalid"
	NotFound Kind = "not_found"
	Conflict Kind = "conflict"
	Internal Kind = "internal"
)

type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func InvalidErr(message string) *AppError {
	return &AppError{Kind: Invalid, Message: message}
}

func NotFoundErr(message string) *AppError {
	return &AppError{Kind: NotFound, Message: message}
}

func ConflictErr(message string) *AppError {
	return &AppError{Kind: Conflict, Message: message}
}

func Wrap(message string, err error) *AppError {
	return &AppError{Kind: Internal, Message: message, Err: err}
}

func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func IsKind(err error, kind Kind) bool {
	if ae, ok := As(err); ok {
		return ae.Kind == kind
	}
	return false
}

func HTTPStatus(err error) int {
	if ae, ok := As(err); ok {
		switch ae.Kind {
		case Invalid:
			return http.StatusBadRequest
		case NotFound:
			return http.StatusNotFound
		case Conflict:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}
