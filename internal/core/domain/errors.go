package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrClaimNotFound = fmt.Errorf("claim %w", ErrNotFound)
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")
	ErrTemporary     = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Invalid builds a validation error naming the violated rule.
func Invalid(operation, rule string) error {
	return WrapError(ErrInvalidInput, operation, errors.New(rule))
}

// Denied builds a permission error naming the missing capability.
func Denied(operation, rule string) error {
	return WrapError(ErrForbidden, operation, errors.New(rule))
}
