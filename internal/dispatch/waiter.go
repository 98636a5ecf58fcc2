package dispatch

import "sync"

// waiter wakes goroutines blocked on job dependencies. A finished job wakes
// exactly the subscriptions that named it.
type waiter struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch chan struct{}
}

func newWaiter() *waiter {
	return &waiter{subs: map[string]map[*subscription]struct{}{}}
}

// subscribe registers one wake-up channel for all ids. Subscribe before
// reading dependency state so a completion in between is not lost.
func (w *waiter) subscribe(ids []string) (<-chan struct{}, func()) {
	sub := &subscription{ch: make(chan struct{}, 1)}
	w.mu.Lock()
	for _, id := range ids {
		set := w.subs[id]
		if set == nil {
			set = map[*subscription]struct{}{}
			w.subs[id] = set
		}
		set[sub] = struct{}{}
	}
	w.mu.Unlock()

	unsubscribe := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, id := range ids {
			set := w.subs[id]
			delete(set, sub)
			if len(set) == 0 {
				delete(w.subs, id)
			}
		}
	}
	return sub.ch, unsubscribe
}

func (w *waiter) notify(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sub := range w.subs[id] {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// watched returns how many job ids currently have subscribers.
func (w *waiter) watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}
