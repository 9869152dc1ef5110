package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyClient struct {
	failures  int
	calls     int
	vector    []float32
	batchSize int
}

func (c *flakyClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("transient failure")
	}
	return c.vector, nil
}

func (c *flakyClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("transient failure")
	}
	n := c.batchSize
	if n == 0 {
		n = len(texts)
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = c.vector
	}
	return out, nil
}

func TestNewEmbedder_RejectsBadConfig(t *testing.T) {
	_, err := NewEmbedder(&flakyClient{}, 0, time.Second, 3, time.Millisecond)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewEmbedder(&flakyClient{}, 8, time.Second, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEmbedder_RetriesThenSucceeds(t *testing.T) {
	client := &flakyClient{failures: 2, vector: []float32{1, 0, 0}}
	e, err := NewEmbedder(client, 3, time.Second, 3, time.Millisecond)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.Equal(t, 3, client.calls)
}

func TestEmbedder_ExhaustsRetries(t *testing.T) {
	client := &flakyClient{failures: 10, vector: []float32{1, 0, 0}}
	e, err := NewEmbedder(client, 3, time.Second, 3, time.Millisecond)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingService)
	assert.Equal(t, 3, client.calls)
}

func TestEmbedder_RejectsWrongDimension(t *testing.T) {
	client := &flakyClient{vector: []float32{1, 0}}
	e, err := NewEmbedder(client, 3, time.Second, 1, time.Millisecond)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingService)
}

func TestEmbedder_BatchCountMismatch(t *testing.T) {
	client := &flakyClient{vector: []float32{1, 0, 0}, batchSize: 1}
	e, err := NewEmbedder(client, 3, time.Second, 1, time.Millisecond)
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingService)
}

func TestEmbedder_BatchEmptyInput(t *testing.T) {
	client := &flakyClient{vector: []float32{1, 0, 0}}
	e, err := NewEmbedder(client, 3, time.Second, 3, time.Millisecond)
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Equal(t, 0, client.calls)
}

func TestEmbedder_RespectsCancelledContext(t *testing.T) {
	client := &flakyClient{failures: 10, vector: []float32{1, 0, 0}}
	e, err := NewEmbedder(client, 3, time.Second, 5, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Embed(ctx, "hello")
	require.Error(t, err)
	assert.LessOrEqual(t, client.calls, 1)
}
