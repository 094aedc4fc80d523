package ble

import "sync"

// Verdict is a handler's answer to a dispatched event.
type Verdict int

const (
	// Pass lets the next handler see the event.
	Pass Verdict = 0
	// Claimed stops dispatch; the event is handled.
	Claimed Verdict = 1
	// ClaimedDiscard stops dispatch and asks that the event is dropped from
	// any further processing, such as being published. Only advertisement
	// dispatch distinguishes it from Claimed.
	ClaimedDiscard Verdict = 2
)

func (v Verdict) claimed() bool { return v == Claimed || v == ClaimedDiscard }

// Handler receives one event from a Registry.
type Handler[E any] func(E) Verdict

type registration[E any] struct {
	tag string
	fn  Handler[E]
}

// Registry is an append-only, ordered list of tagged handlers. The first
// registered handler is offered an event first and may claim it, so
// independent consumers can own devices without central coordination.
type Registry[E any] struct {
	mu       sync.RWMutex
	handlers []registration[E]
}

// Register appends fn under tag. The tag is only used for logging.
func (r *Registry[E]) Register(tag string, fn Handler[E]) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, registration[E]{tag: tag, fn: fn})
}

// Len returns the number of registered handlers.
func (r *Registry[E]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch offers e to each handler in registration order and stops at the
// first claim. It returns that handler's verdict and tag, or Pass and "".
func (r *Registry[E]) Dispatch(e E) (Verdict, string) {
	r.mu.RLock()
	handlers := r.handlers[:len(r.handlers):len(r.handlers)]
	r.mu.RUnlock()

	for _, h := range handlers {
		if v := h.fn(e); v.claimed() {
			return v, h.tag
		}
	}
	return Pass, ""
}
