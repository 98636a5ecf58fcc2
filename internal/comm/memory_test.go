package comm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}
}

func TestMemoryQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	got := make(chan string, 1)
	go func() {
		id, err := q.Dequeue(context.Background())
		if err == nil {
			got <- id
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue(context.Background(), "late"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case id := <-got:
		if id != "late" {
			t.Fatalf("expected late got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("dequeue did not wake up")
	}
}

func TestMemoryQueue_ContextAndClose(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Enqueue(context.Background(), "x"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed on enqueue, got %v", err)
	}
}

func TestMemoryQueue_CancelBroadcast(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := q.SubscribeCancels(ctx)
	second, _ := q.SubscribeCancels(ctx)
	if err := q.PublishCancel(ctx, "job-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, ch := range []<-chan string{first, second} {
		select {
		case id := <-ch:
			if id != "job-1" {
				t.Fatalf("subscriber %d: expected job-1 got %s", i, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no cancel received", i)
		}
	}
}
