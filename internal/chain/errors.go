package chain

import (
	"errors"

	"github.com/bull/docchat/internal/chunker"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/llm"
	"github.com/bull/docchat/internal/vectorindex"
)

var (
	// ErrEmptyQuery is returned for a blank question.
	ErrEmptyQuery = errors.New("empty query")

	// ErrInvalidConfiguration is returned by New for unusable settings.
	ErrInvalidConfiguration = errors.New("invalid chain configuration")

	// ErrRetrievalFailed is returned when the query cannot be embedded or
	// the knowledge base cannot be searched.
	ErrRetrievalFailed = errors.New("retrieval failed")

	// ErrRetrievalTimeout is returned when embedding the query timed out.
	ErrRetrievalTimeout = errors.New("retrieval timed out")

	// ErrGenerationFailed is returned when the model fails mid-answer.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrGenerationTimeout is returned when the answer was not finished
	// within the generation timeout.
	ErrGenerationTimeout = errors.New("generation timed out")
)

// IsTransient reports whether err may succeed if the request is repeated
// later. Configuration errors such as dimension mismatches are permanent.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, embedding.ErrDimensionMismatch),
		errors.Is(err, vectorindex.ErrDimensionMismatch),
		errors.Is(err, vectorindex.ErrIncompatible),
		errors.Is(err, chunker.ErrInvalidConfiguration),
		errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrEmptyQuery):
		return false
	case errors.Is(err, ErrRetrievalTimeout),
		errors.Is(err, ErrGenerationTimeout),
		errors.Is(err, embedding.ErrTimeout),
		errors.Is(err, embedding.ErrUnavailable),
		errors.Is(err, llm.ErrUnavailable),
		errors.Is(err, vectorindex.ErrUnreachable):
		return true
	default:
		return false
	}
}
