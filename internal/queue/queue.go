// Package queue carries job payloads from producers to the job runner.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// DefaultKey is the Redis list jobs are pushed to.
const DefaultKey = "pdf_jobs"

// Queue is a FIFO of job payloads. Pop returns ok=false when the queue is
// empty; that is not an error.
type Queue interface {
	Push(ctx context.Context, p domain.JobPayload) error
	Pop(ctx context.Context) (domain.JobPayload, bool, error)
}

// RedisQueue is a FIFO over a Redis list: LPUSH to enqueue, RPOP to dequeue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue uses an existing client.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Push enqueues a payload.
func (q *RedisQueue) Push(ctx context.Context, p domain.JobPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return domain.ConversionError("marshal job payload", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return domain.QueueError("push job", err)
	}
	return nil
}

// Pop dequeues the oldest payload. A payload that is not valid JSON is
// consumed and reported as a validation error.
func (q *RedisQueue) Pop(ctx context.Context) (domain.JobPayload, bool, error) {
	var p domain.JobPayload

	data, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return p, false, nil
	}
	if err != nil {
		return p, false, domain.QueueError("pop job", err)
	}

	if err := json.Unmarshal(data, &p); err != nil {
		return p, false, domain.ValidationError("malformed job payload: "+string(data), err)
	}
	return p, true, nil
}

// Len returns the number of queued payloads.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, domain.QueueError("queue length", err)
	}
	return n, nil
}

// MemoryQueue is an in-process FIFO for local runs and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items []domain.JobPayload
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(ctx context.Context, p domain.JobPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (domain.JobPayload, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.JobPayload{}, false, nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true, nil
}

// Len returns the number of queued payloads.
func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

var (
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*MemoryQueue)(nil)
)
