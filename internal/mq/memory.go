package mq

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process Backend used by tests and single-node
// deployments. Queues are unbounded so Publish never blocks admission;
// a nacked message goes back to the front of its queue.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	closed bool
}

type memoryQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Message
}

func newMemoryQueue() *memoryQueue {
	q := &memoryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{queues: make(map[string]*memoryQueue)}
}

func (b *MemoryBackend) queue(channel string) (*memoryQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("memory backend closed")
	}
	q, ok := b.queues[channel]
	if !ok {
		q = newMemoryQueue()
		b.queues[channel] = q
	}
	return q, nil
}

// Publish appends a message to the named queue.
func (b *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	q, err := b.queue(channel)
	if err != nil {
		return "", err
	}

	msg := Message{ID: uuid.NewString(), Data: data, Attributes: attrs}
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()
	q.cond.Signal()
	return msg.ID, nil
}

// Subscribe consumes messages from the named queue until ctx is done.
// A handler error requeues the message at the front.
func (b *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	q, err := b.queue(channel)
	if err != nil {
		return err
	}

	// Wake the waiter when the subscriber's context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		q.cond.Broadcast()
	}()

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && ctx.Err() == nil {
			q.cond.Wait()
		}
		if ctx.Err() != nil {
			q.mu.Unlock()
			return ctx.Err()
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := handler(ctx, msg); err != nil {
			q.mu.Lock()
			q.pending = append([]Message{msg}, q.pending...)
			q.mu.Unlock()
			q.cond.Signal()
		}
	}
}

// Depth reports the number of pending messages on a queue.
func (b *MemoryBackend) Depth(channel string) int {
	b.mu.Lock()
	q, ok := b.queues[channel]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close marks the backend closed and wakes all subscribers.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	queues := b.queues
	b.mu.Unlock()
	for _, q := range queues {
		q.cond.Broadcast()
	}
	return nil
}
