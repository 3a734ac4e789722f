package queue

import (
	"context"
	"log"
	"time"

	"github.com/iago/json2excel-back/internal/domain"
)

// LocalQueue is the in-process queue used when Redis is not configured.
type LocalQueue struct {
	ch     chan domain.QueueMessage
	logger *log.Logger
}

func NewLocalQueue(capacity int, logger *log.Logger) *LocalQueue {
	if capacity <= 0 {
		capacity = 5
	}
	return &LocalQueue{
		ch:     make(chan domain.QueueMessage, capacity),
		logger: logger,
	}
}

func (q *LocalQueue) TryEnqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- message:
		return nil
	default:
		if q.logger != nil {
			q.logger.Printf("local queue rejected message job_id=%s capacity=%d", message.JobID, cap(q.ch))
		}
		return ErrQueueFull
	}
}

func (q *LocalQueue) Dequeue(ctx context.Context, wait time.Duration) (domain.QueueMessage, bool, error) {
	if wait <= 0 {
		select {
		case message := <-q.ch:
			return message, true, nil
		default:
			return domain.QueueMessage{}, false, nil
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.QueueMessage{}, false, ctx.Err()
	case message := <-q.ch:
		return message, true, nil
	case <-timer.C:
		return domain.QueueMessage{}, false, nil
	}
}

func (q *LocalQueue) Len(_ context.Context) (int, error) {
	return len(q.ch), nil
}

func (q *LocalQueue) Capacity() int {
	return cap(q.ch)
}
