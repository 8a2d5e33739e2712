package storage

import "errors"

var (
	// ErrPositionNotFound is returned when no position with the given ID exists for the user
	ErrPositionNotFound = errors.New("position not found")
	// ErrInvalidStrategy is returned when a manual strategy assignment names an unknown type
	ErrInvalidStrategy = errors.New("invalid strategy type")
	// ErrNotIdea is returned when SaveIdea is given a broker-synced position
	ErrNotIdea = errors.New("position is not a trade idea")
)
