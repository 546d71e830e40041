package embedding

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// DefaultWorkers bounds concurrent embedding requests in the async pool.
const DefaultWorkers = 4

// Async offloads embedding onto a bounded worker pool so request handlers
// are not tied up by inference latency. Results arrive on a buffered
// channel; an abandoned request simply leaves its result to be collected
// by the garbage collector.
type Async struct {
	service *Service
	pool    *ants.Pool
}

// NewAsync creates an async wrapper around service with the given worker
// count (DefaultWorkers when workers <= 0).
func NewAsync(service *Service, workers int) (*Async, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Async{service: service, pool: pool}, nil
}

// EmbedBatch schedules embedding of texts and returns a channel that
// receives the vectors exactly once. The same no-error contract as
// Service.EmbedBatch applies.
func (a *Async) EmbedBatch(ctx context.Context, texts []string) <-chan [][]float32 {
	out := make(chan [][]float32, 1)
	run := func() { out <- a.service.EmbedBatch(ctx, texts) }
	if err := a.pool.Submit(run); err != nil {
		// Pool released or saturated: degrade to a plain goroutine rather
		// than dropping the request.
		go run()
	}
	return out
}

// EmbedQuery schedules a single-text embedding.
func (a *Async) EmbedQuery(ctx context.Context, text string) <-chan []float32 {
	out := make(chan []float32, 1)
	run := func() { out <- a.service.EmbedQuery(ctx, text) }
	if err := a.pool.Submit(run); err != nil {
		go run()
	}
	return out
}

// Release shuts down the worker pool. In-flight tasks run to completion.
func (a *Async) Release() {
	a.pool.Release()
}
