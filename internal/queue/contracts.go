package queue

import (
	"context"
	"errors"
	"time"

	"github.com/iago/json2excel-back/internal/domain"
)

var ErrQueueFull = errors.New("queue is full")

// JobQueue is a bounded FIFO of pending jobs drained by a single worker.
type JobQueue interface {
	// TryEnqueue never blocks; it returns ErrQueueFull at capacity.
	TryEnqueue(ctx context.Context, message domain.QueueMessage) error
	// Dequeue waits up to wait for a message. ok is false when none arrived.
	Dequeue(ctx context.Context, wait time.Duration) (message domain.QueueMessage, ok bool, err error)
	Len(ctx context.Context) (int, error)
	Capacity() int
}
