package progress

import (
	"log/slog"
	"sync"
)

const defaultSubscriberCapacity = 64

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// WithSubscriberCapacity overrides the buffered channel size per subscriber.
func WithSubscriberCapacity(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// Router delivers events to per-job subscribers over buffered channels.
type Router struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	capacity    int
}

// Subscription is an active push subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close ends the subscription and closes Events. Safe to call twice.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers: map[string]map[*subscriber]struct{}{},
		capacity:    defaultSubscriberCapacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Subscribe registers for a job's events. Events emitted before the call are
// not replayed.
func (r *Router) Subscribe(jobID string) Subscription {
	sub := newSubscriber(r.capacity)
	r.mu.Lock()
	if r.subscribers[jobID] == nil {
		r.subscribers[jobID] = map[*subscriber]struct{}{}
	}
	r.subscribers[jobID][sub] = struct{}{}
	r.mu.Unlock()
	return Subscription{
		Events: sub.ch,
		cancel: func() { r.remove(jobID, sub) },
	}
}

// Route delivers ev to every subscriber of its job without blocking. A
// terminal job event closes all of the job's subscriptions after delivery.
func (r *Router) Route(ev Event) {
	r.mu.RLock()
	subs := make([]*subscriber, 0, len(r.subscribers[ev.JobID]))
	for sub := range r.subscribers[ev.JobID] {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
	if ev.Terminal() {
		r.closeJob(ev.JobID)
	}
}

// Subscribers returns the number of live subscriptions for a job.
func (r *Router) Subscribers(jobID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[jobID])
}

func (r *Router) remove(jobID string, sub *subscriber) {
	r.mu.Lock()
	if subs := r.subscribers[jobID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, jobID)
		}
	}
	r.mu.Unlock()
	sub.close()
}

func (r *Router) closeJob(jobID string) {
	r.mu.Lock()
	subs := r.subscribers[jobID]
	delete(r.subscribers, jobID)
	r.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newSubscriber(capacity int) *subscriber {
	return &subscriber{ch: make(chan Event, capacity)}
}

func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		slog.Warn("progress subscriber full, dropping event",
			"job", ev.JobID, "seq", ev.Seq, "type", ev.Type, "agent", ev.AgentName)
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
