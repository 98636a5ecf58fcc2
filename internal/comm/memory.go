package comm

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process JobQueue and CancelBus.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []string
	notify  chan struct{}
	closed  bool
	done    chan struct{}
	subs    map[int]chan string
	nextSub int
}

var (
	_ JobQueue  = (*MemoryQueue)(nil)
	_ CancelBus = (*MemoryQueue)(nil)
)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		subs:   map[int]chan string{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobExecutionID string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, jobExecutionID)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Len returns the number of queued ids.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) PublishCancel(ctx context.Context, jobExecutionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- jobExecutionID:
		default:
		}
	}
	return nil
}

func (q *MemoryQueue) SubscribeCancels(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 64)
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Close wakes blocked consumers; later Dequeue calls drain what is left and
// then return ErrQueueClosed.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
