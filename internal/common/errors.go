// Package common defines shared constants and sentinel errors used across
// the upload pipeline. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Task-processing errors. ErrSourceGone and ErrNotAuthenticated are
	// non-retryable: the first drops the task, the second parks it as
	// failed until the user re-authenticates through the provider's own
	// flow.
	ErrSourceGone       = errors.New("source file missing")
	ErrNotAuthenticated = errors.New("backend not authenticated")

	// Provider errors.
	ErrUnknownBackend = errors.New("unknown backend")
	ErrEmptySource    = errors.New("source file is empty")
)
