package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Checked wraps a Gateway with a per-call timeout and enforces that every
// returned vector has the declared dimensionality.
type Checked struct {
	next    Gateway
	timeout time.Duration
}

// NewChecked wraps next. A zero timeout disables the deadline.
func NewChecked(next Gateway, timeout time.Duration) *Checked {
	return &Checked{next: next, timeout: timeout}
}

func (c *Checked) Dimensions() int { return c.next.Dimensions() }

func (c *Checked) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Checked) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	vecs, err := c.next.EmbedBatch(callCtx, texts)
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrUnavailable, len(vecs), len(texts))
	}
	want := c.next.Dimensions()
	for i, v := range vecs {
		if len(v) != want {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(v), want)
		}
	}
	return vecs, nil
}

func (c *Checked) classify(parent, call context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		// Caller cancelled or its own deadline passed.
		return err
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %w", ErrTimeout, c.timeout, err)
	case errors.Is(err, ErrDimensionMismatch), errors.Is(err, ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
