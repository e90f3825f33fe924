package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("notification not found")
	ErrTokenNotFound = errors.New("push token not found")
	ErrDuplicate     = errors.New("notification already exists for this reference")
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("not allowed")
)

// ValidationError describes one invalid input field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
