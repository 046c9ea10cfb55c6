// Package events turns queued attendance messages into completion-cache entries.
package events

import (
	"context"
	"log"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/civilday"
	"geoattend/internal/queue"
)

// Consumer applies attendance events to a completion cache.
type Consumer struct {
	cache attendance.CompletionCache
	loc   *time.Location
	now   func() time.Time
}

// NewConsumer builds a consumer for days in loc.
func NewConsumer(cache attendance.CompletionCache, loc *time.Location) *Consumer {
	return &Consumer{cache: cache, loc: loc, now: time.Now}
}

// Handle processes one message. Only completion events touch the cache.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeCompleted {
		return nil
	}
	evt, err := msg.Decode()
	if err != nil {
		return err
	}
	w, err := civilday.ParseDay(evt.Day, c.loc)
	if err != nil {
		return err
	}
	ttl := w.End.Sub(c.now())
	if ttl <= 0 {
		// day already over
		return nil
	}
	return c.cache.MarkCompleted(ctx, evt.StudentID, evt.Day, ttl)
}

// Run drains q until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if err := c.Handle(ctx, msg); err != nil {
			log.Printf("event %s failed: %v", msg.Type, err)
			continue
		}
		if msg.Type == queue.TypeCompleted {
			log.Printf("event %s applied", msg.Type)
		}
	}
	return nil
}
