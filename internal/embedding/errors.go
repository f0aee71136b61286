package embedding

import "errors"

var (
	// ErrUnavailable is returned on transport or authentication failures. Callers may retry.
	ErrUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch is returned when a vector's length disagrees with the
	// declared dimensionality. It is a configuration error and is never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrTimeout = errors.New("embedding timed out")
)
