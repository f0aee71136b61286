package memory

import "errors"

var (
	// ErrSessionNotFound is returned when a session has no recorded turns.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTurn is returned when a turn lacks a session or a query.
	ErrInvalidTurn = errors.New("invalid turn")
)
