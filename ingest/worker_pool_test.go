package ingest

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsAllTasks(t *testing.T) {
	pool := NewWorkerPool(4)

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		err := pool.Submit(context.Background(), func() { n.Add(1) })
		require.NoError(t, err)
	}
	pool.Close()

	assert.EqualValues(t, 100, n.Load())
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	err := pool.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolCloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()
}

func TestWorkerPoolSubmitCancelledContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	// Saturate the queue so Submit has to block on the context.
	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		_ = pool.Submit(context.Background(), func() { <-block })
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
}
