package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway returns canned vectors or errors and can block until its context ends.
type stubGateway struct {
	dims  int
	vecs  [][]float32
	err   error
	block bool
}

func (s *stubGateway) Dimensions() int { return s.dims }

func (s *stubGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.vecs, s.err
}

func TestChecked_PassesThrough(t *testing.T) {
	g := NewChecked(NewHash(32), time.Second)

	vecs, err := g.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 32, g.Dimensions())
}

func TestChecked_DimensionMismatch(t *testing.T) {
	stub := &stubGateway{dims: 384, vecs: [][]float32{make([]float32, 768)}}

	_, err := NewChecked(stub, 0).Embed(context.Background(), "query")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChecked_CountMismatch(t *testing.T) {
	stub := &stubGateway{dims: 4, vecs: [][]float32{make([]float32, 4)}}

	_, err := NewChecked(stub, 0).EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestChecked_TransportErrorIsUnavailable(t *testing.T) {
	stub := &stubGateway{dims: 4, err: errors.New("connection refused")}

	_, err := NewChecked(stub, 0).Embed(context.Background(), "query")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrDimensionMismatch)
}

func TestChecked_Timeout(t *testing.T) {
	stub := &stubGateway{dims: 4, block: true}

	_, err := NewChecked(stub, 20*time.Millisecond).Embed(context.Background(), "query")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChecked_CallerCancelIsNotTimeout(t *testing.T) {
	stub := &stubGateway{dims: 4, block: true}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := NewChecked(stub, time.Minute).Embed(ctx, "query")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestChecked_EmptyBatch(t *testing.T) {
	vecs, err := NewChecked(&stubGateway{dims: 4}, 0).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}
