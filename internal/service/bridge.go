package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alertforge/alertforge/internal/domain/stream"
)

// ErrBridgeClosed is returned by Next after the final event has been drained.
var ErrBridgeClosed = errors.New("event bridge closed")

// ErrBridgeTimeout is returned by Next when no event arrives within the bound.
var ErrBridgeTimeout = errors.New("timed out waiting for stream event")

// DefaultBridgeCapacity bounds the event queue when no capacity is configured.
const DefaultBridgeCapacity = 64

// EventBridge turns push-style event submissions from the run worker into a
// pull-style, timeout-bounded sequence for the stream consumer.
//
// Single producer, single consumer: Submit and Close are called from the run
// worker goroutine, with Close after the final Submit. Next and Abandon are
// called from the stream-consuming context.
type EventBridge struct {
	ch          chan stream.Event
	abandoned   chan struct{}
	closeOnce   sync.Once
	abandonOnce sync.Once
}

// NewEventBridge creates a bridge with the given queue capacity.
func NewEventBridge(capacity int) *EventBridge {
	if capacity <= 0 {
		capacity = DefaultBridgeCapacity
	}
	return &EventBridge{
		ch:        make(chan stream.Event, capacity),
		abandoned: make(chan struct{}),
	}
}

// Submit enqueues an event for the consumer. When the queue is full it blocks
// with a warning rather than dropping: a silently lost step event is a worse
// failure mode than a stalled producer. Returns false if the stream was
// abandoned or the context cancelled before the event could be queued.
func (b *EventBridge) Submit(ctx context.Context, ev stream.Event) bool {
	select {
	case b.ch <- ev:
		return true
	case <-b.abandoned:
		return false
	default:
	}

	slog.Warn("stream consumer lagging, producer blocked", "event_type", ev.Type)
	select {
	case b.ch <- ev:
		return true
	case <-b.abandoned:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream. Pending and subsequent Next calls drain any queued
// events and then report ErrBridgeClosed. Idempotent.
func (b *EventBridge) Close() {
	b.closeOnce.Do(func() { close(b.ch) })
}

// Abandon is called on consumer teardown so a producer blocked in Submit
// never stalls on a stream nobody reads anymore. Idempotent.
func (b *EventBridge) Abandon() {
	b.abandonOnce.Do(func() { close(b.abandoned) })
}

// Next returns the next queued event. It never waits longer than timeout:
// a stalled remote run must surface as an error instead of holding the
// stream open forever.
func (b *EventBridge) Next(ctx context.Context, timeout time.Duration) (stream.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-b.ch:
		if !ok {
			return stream.Event{}, ErrBridgeClosed
		}
		return ev, nil
	case <-timer.C:
		return stream.Event{}, ErrBridgeTimeout
	case <-ctx.Done():
		return stream.Event{}, ctx.Err()
	}
}
