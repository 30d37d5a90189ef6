package events

import "sync"

// lanes keeps one FIFO per key. At most one drainer owns a key at a time,
// which gives strict per-key ordering and mutual exclusion while different
// keys proceed independently. Unlike the reconcile queue, nothing is
// deduplicated: every pushed event is delivered.
type lanes struct {
	mu      sync.Mutex
	pending map[string][]Event
	active  map[string]bool
}

func newLanes() *lanes {
	return &lanes{
		pending: make(map[string][]Event),
		active:  make(map[string]bool),
	}
}

// push appends ev to its lane. It returns true when the caller must start a
// drainer for the key.
func (l *lanes) push(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending[ev.Key] = append(l.pending[ev.Key], ev)
	if l.active[ev.Key] {
		return false
	}
	l.active[ev.Key] = true
	return true
}

// next pops the head of the lane. When the lane is empty the key is
// released and false is returned.
func (l *lanes) next(key string) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	queue := l.pending[key]
	if len(queue) == 0 {
		delete(l.pending, key)
		delete(l.active, key)
		return Event{}, false
	}
	ev := queue[0]
	l.pending[key] = queue[1:]
	return ev, true
}

// depth returns the number of queued events for key.
func (l *lanes) depth(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending[key])
}
