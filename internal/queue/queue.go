package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published after a successful submit.
const (
	TypeCheckedIn = "attendance.checked_in"
	TypeCompleted = "attendance.completed"
)

// Message represents work to be processed.
type Message struct {
	Type string
	Body []byte
}

// Event is the JSON body carried by attendance messages.
type Event struct {
	StudentID  string    `json:"student_id"`
	RecordID   string    `json:"record_id"`
	Day        string    `json:"day"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewMessage encodes an event under the given type.
func NewMessage(typ string, evt Event) (Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Body: body}, nil
}

// Decode unmarshals the message body as an Event.
func (m Message) Decode() (Event, error) {
	var evt Event
	if err := json.Unmarshal(m.Body, &evt); err != nil {
		return Event{}, err
	}
	if evt.StudentID == "" || evt.Day == "" {
		return Event{}, errors.New("queue: event missing student or day")
	}
	return evt, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
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
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "attendance:events"
	}
	return &RedisQueue{client: client, key: key, wait: 5 * time.Second}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(envelope{Type: msg.Type, Body: msg.Body})
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					// back off on connection errors
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var env envelope
			if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
				continue
			}
			select {
			case out <- Message{Type: env.Type, Body: env.Body}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}
