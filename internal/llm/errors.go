package llm

import "errors"

var (
	// ErrUnavailable is returned on transport, auth or server failures.
	ErrUnavailable = errors.New("generation service unavailable")

	// ErrEmptyResponse is returned when the model produced no choices.
	ErrEmptyResponse = errors.New("empty response from model")
)
