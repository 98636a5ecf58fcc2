package worker

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrCanceledByRequest is the cancel cause of a job stopped through the
	// cancel bus.
	ErrCanceledByRequest = errors.New("canceled by request")
	// ErrWorkerStopped is the cancel cause of jobs interrupted by shutdown.
	ErrWorkerStopped = errors.New("worker stopped")
)

// Registry tracks in-flight job executions so they can be found and
// interrupted by id.
type Registry struct {
	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
}

func NewRegistry() *Registry {
	return &Registry{active: map[string]context.CancelCauseFunc{}}
}

// Register derives a cancellable context for id. ok is false when id is
// already running on this worker; release must be called when the job ends.
func (r *Registry) Register(parent context.Context, id string) (ctx context.Context, release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[id]; exists {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancelCause(parent)
	r.active[id] = cancel
	release = func() {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
		cancel(nil)
	}
	return ctx, release, true
}

// Cancel interrupts a running job. It reports whether the job was found.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		cancel(ErrCanceledByRequest)
	}
	return ok
}

func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	return out
}
