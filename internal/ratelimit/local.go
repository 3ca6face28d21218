package ratelimit

import (
	"sync"
	"time"
)

// localWindow is the in-process fallback used while Redis is unreachable.
// It tracks admitted event timestamps per key and prunes them on access.
// Windows admitted here are not shared across instances.
type localWindow struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

func newLocalWindow(limit int, window time.Duration) *localWindow {
	return &localWindow{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

func (w *localWindow) Allow(key string, now time.Time) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.events[key][:0]
	for _, ts := range w.events[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= w.limit {
		w.events[key] = kept
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    kept[0].Add(w.window),
			Limit:      w.limit,
			RetryAfter: w.window,
		}
	}

	w.events[key] = append(kept, now)
	return Result{
		Allowed:    true,
		Remaining:  w.limit - len(kept) - 1,
		ResetAt:    now.Add(w.window),
		Limit:      w.limit,
		RetryAfter: w.window,
	}
}

// Forget drops a key's window, for connections that have gone away.
func (w *localWindow) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.events, key)
}
