package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsync_DeliversResult(t *testing.T) {
	svc := newFallbackService(32)
	async, err := NewAsync(svc, 2)
	require.NoError(t, err)
	defer async.Release()

	ch := async.EmbedBatch(context.Background(), []string{"one", "two"})

	select {
	case vectors := <-ch:
		require.Len(t, vectors, 2)
		assert.Equal(t, svc.EmbedBatch(context.Background(), []string{"one", "two"}), vectors)
	case <-time.After(5 * time.Second):
		t.Fatal("async embedding did not deliver a result")
	}
}

func TestAsync_EmbedQuery(t *testing.T) {
	svc := newFallbackService(32)
	async, err := NewAsync(svc, 0) // default worker count
	require.NoError(t, err)
	defer async.Release()

	select {
	case vec := <-async.EmbedQuery(context.Background(), "query"):
		assert.Len(t, vec, 32)
	case <-time.After(5 * time.Second):
		t.Fatal("async query embedding did not deliver a result")
	}
}

func TestAsync_AfterRelease(t *testing.T) {
	svc := newFallbackService(16)
	async, err := NewAsync(svc, 1)
	require.NoError(t, err)
	async.Release()

	// A released pool degrades to plain goroutines; the result still arrives.
	select {
	case vec := <-async.EmbedQuery(context.Background(), "late"):
		assert.Len(t, vec, 16)
	case <-time.After(5 * time.Second):
		t.Fatal("embedding after release did not deliver a result")
	}
}
