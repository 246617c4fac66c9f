package model

import "errors"

var (
	// ErrNotFound is returned when a schedule, dose or medication is absent
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for logic errors the caller must not retry:
	// terminal-state mutations, exceeding the snooze limit, invalid patterns
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidInput is returned when a request is malformed before any state is read
	ErrInvalidInput = errors.New("invalid input")
)
