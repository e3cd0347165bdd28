package model

import (
	"errors"
	"strings"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")

	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEventFull          = errors.New("event is full")
	ErrEventNotOpen       = errors.New("event is not open for registration")
	ErrAlreadyRegistered  = errors.New("already registered for this event")
	ErrNotRegistered      = errors.New("not registered for this event")
	ErrInvalidQRCode      = errors.New("invalid qr code")
	ErrCheckInClosed      = errors.New("check-in is not open for this event")
	ErrSurveyClosed       = errors.New("survey is not open")
	ErrAlreadyResponded   = errors.New("survey already answered")
	ErrNotEligible        = errors.New("not eligible for a certificate")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrTicketClosed       = errors.New("ticket is closed")
	ErrSelfModeration     = errors.New("admins can't moderate their own account")
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(flds ...FieldError) error {
	return &ValidationError{Fields: flds}
}

func (err *ValidationError) Error() string {
	msgs := make([]string, 0, len(err.Fields))
	for _, f := range err.Fields {
		msgs = append(msgs, f.Field+": "+f.Error)
	}
	return strings.Join(msgs, "; ")
}

func (err *ValidationError) Unwrap() error {
	return ErrValidation
}
