package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates malformed or missing required input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientStock indicates an operation would drive a quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyProcessed indicates a transition attempted on a terminal or wrong state.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrNoVarianceToCorrect indicates a correction requested for a zero variance count.
	ErrNoVarianceToCorrect = errors.New("no variance to correct")
	// ErrInternal indicates a persistence or infrastructure failure.
	ErrInternal = errors.New("internal error")
)

var domainErrors = []error{
	ErrNotFound,
	ErrInvalidInput,
	ErrInsufficientStock,
	ErrAlreadyProcessed,
	ErrNoVarianceToCorrect,
	ErrInternal,
}

// IsDomainError reports whether err already belongs to the error taxonomy.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Internal wraps infrastructure errors as ErrInternal, leaving domain errors untouched.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
