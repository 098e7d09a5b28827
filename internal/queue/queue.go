// Package queue is the scan transport: readers publish taps at the edge, the
// ingestion pipeline consumes them. Delivery is at-least-once; the pipeline's
// dedup window keeps redelivery idempotent.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message represents work to be processed.
type Message struct {
	Type string
	Body []byte
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// Acker delivers per-scan ack payloads back toward the originating reader.
type Acker interface {
	Ack(ctx context.Context, topic string, body []byte) error
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch   chan Message
	acks chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size), acks: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ack buffers the ack for tests and local runs; full buffers drop.
func (q *InMemory) Ack(ctx context.Context, topic string, body []byte) error {
	select {
	case q.acks <- Message{Type: topic, Body: body}:
	default:
	}
	return nil
}

// Acks exposes the buffered acks.
func (q *InMemory) Acks() <-chan Message { return q.acks }

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
	ackTTL time.Duration
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "attendance:scans"
	}
	return &RedisQueue{client: client, key: key, ackTTL: 30 * time.Second}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.LPush(ctx, q.key, serialize(msg)).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				if msg, err := deserialize(res[1]); err == nil {
					out <- msg
				}
			}
		}
	}()
	return out, nil
}

// Ack LPUSHes the payload onto the reader's ack list with a short TTL, so
// acks for readers that never collect them do not accumulate.
func (q *RedisQueue) Ack(ctx context.Context, topic string, body []byte) error {
	if err := q.client.LPush(ctx, topic, string(body)).Err(); err != nil {
		return err
	}
	return q.client.Expire(ctx, topic, q.ackTTL).Err()
}

// serialize is a tiny helper to store messages as Type|Body.
func serialize(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func deserialize(s string) (Message, error) {
	for i, r := range s {
		if r == '|' {
			return Message{Type: s[:i], Body: []byte(s[i+1:])}, nil
		}
	}
	return Message{Body: []byte(s)}, nil
}
