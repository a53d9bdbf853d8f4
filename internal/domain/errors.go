package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrProviderEmpty = errors.New("place provider: zero results")
	ErrAIParse       = errors.New("ai: no parsable json in response")
	ErrUnauthorized  = errors.New("unauthorized")
)

// ProviderError is a non-success answer from the place provider.
// Status is the provider status string, HTTPStatus the transport code.
type ProviderError struct {
	Status     string
	HTTPStatus int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("place provider: %s (http %d): %s", e.Status, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("place provider: %s (http %d)", e.Status, e.HTTPStatus)
}

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persist " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }
