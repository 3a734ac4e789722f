package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Capacity int
}

// cappedPush appends ARGV[2] to KEYS[1] unless the list already holds ARGV[1]
// entries. Returns 1 when pushed, 0 when full.
var cappedPush = redis.NewScript(`
if redis.call("LLEN", KEYS[1]) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("RPUSH", KEYS[1], ARGV[2])
return 1
`)

// RedisQueue keeps pending jobs in a Redis list so the queue survives API
// restarts. It is still drained by the single in-process worker.
type RedisQueue struct {
	client   *redis.Client
	key      string
	capacity int
}

func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Key == "" {
		cfg.Key = "json2excel:jobs"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 5
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisQueue{
		client:   client,
		key:      cfg.Key,
		capacity: cfg.Capacity,
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) TryEnqueue(ctx context.Context, message domain.QueueMessage) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	pushed, err := cappedPush.Run(ctx, q.client, []string{q.key}, q.capacity, string(encoded)).Int()
	if err != nil {
		return fmt.Errorf("push queue message: %w", err)
	}
	if pushed == 0 {
		return ErrQueueFull
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (domain.QueueMessage, bool, error) {
	if wait < time.Second {
		wait = time.Second
	}
	values, err := q.client.BLPop(ctx, wait, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.QueueMessage{}, false, nil
		}
		return domain.QueueMessage{}, false, fmt.Errorf("blpop: %w", err)
	}
	if len(values) != 2 {
		return domain.QueueMessage{}, false, fmt.Errorf("unexpected blpop reply of %d items", len(values))
	}

	var message domain.QueueMessage
	if err := json.Unmarshal([]byte(values[1]), &message); err != nil {
		return domain.QueueMessage{}, false, fmt.Errorf("decode queue message: %w", err)
	}
	return message, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	size, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen: %w", err)
	}
	return int(size), nil
}

func (q *RedisQueue) Capacity() int {
	return q.capacity
}
