package queue

import (
	"context"
	"sync"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
)

// MemoryQueue keeps requests in process. It backs single-node setups
// without Redis and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	requests []domain.ExtractionRequest
}

var _ ports.ExtractionQueue = (*MemoryQueue)(nil)

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue records req.
func (q *MemoryQueue) Enqueue(_ context.Context, req domain.ExtractionRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
	return nil
}

// Drain returns and clears the pending requests.
func (q *MemoryQueue) Drain() []domain.ExtractionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.requests
	q.requests = nil
	return out
}
