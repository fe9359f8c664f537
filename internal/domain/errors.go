package domain

import (
	"errors"
	"fmt"
)

// Provider error classes. Providers wrap one of these so the API layer can
// map failures to a status code with errors.Is.
var (
	// ErrNotConfigured means a setting the provider needs is missing.
	ErrNotConfigured = errors.New("not configured")
	// ErrNotFound means the requested dataset or zone does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument means a path parameter was rejected.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NotConfigured reports a missing setting by name.
func NotConfigured(setting string) error {
	return fmt.Errorf("%s: %w", setting, ErrNotConfigured)
}

// NotFound reports a missing dataset.
func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

// InvalidArgument reports a rejected parameter.
func InvalidArgument(name, value string) error {
	return fmt.Errorf("%s %q: %w", name, value, ErrInvalidArgument)
}
