package scheduler

import (
	"sort"
	"sync"
	"time"
)

// DefaultActivityWindow is how long a request keeps a token on the refresh list.
const DefaultActivityWindow = 10 * time.Minute

// Activity tracks the last request time per token over a sliding window.
type Activity struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewActivity creates an activity tracker. A non-positive window selects
// DefaultActivityWindow; a nil clock selects time.Now.
func NewActivity(window time.Duration, now func() time.Time) *Activity {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Activity{
		seen:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// Touch records a request for token.
func (a *Activity) Touch(token string) {
	a.mu.Lock()
	a.seen[token] = a.now()
	a.mu.Unlock()
}

// Recent returns the tokens requested within the window, sorted, and
// forgets the rest.
func (a *Activity) Recent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.window)
	tokens := make([]string, 0, len(a.seen))
	for token, at := range a.seen {
		if at.Before(cutoff) {
			delete(a.seen, token)
			continue
		}
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Len returns the number of tracked tokens, expired ones included until the next Recent.
func (a *Activity) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}
