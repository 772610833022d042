package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a survey or account does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientCredits is returned when the balance cannot cover a debit.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrMalformedPayload is returned when a webhook batch is not a list of event objects.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrInvalidAmount is returned for non-positive ledger amounts.
	ErrInvalidAmount = errors.New("credit amount must be positive")
)

// ValidationError lists every recipient address that failed the email grammar.
type ValidationError struct {
	Invalid []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("these emails are invalid: %s", strings.Join(e.Invalid, ", "))
}

// DispatchError wraps a failed or timed out mail dispatch.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
