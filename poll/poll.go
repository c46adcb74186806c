// Package poll implements the background value-refresh
// loop and its per-value countdown list.
package poll

import ("sync"

	"zwavehost/value")

// PollEntry is one value under poll, with a countdown counter that resets
// to Intensity each time its turn comes up (step 2-3).
type PollEntry struct {
	ID value.ID
	Intensity int
	counter int
}

// List is the driver's poll list: a FIFO of PollEntry behind the poll
// mutex ("Poll list").
type List struct {
	mu sync.Mutex
	entries []*PollEntry
}

// NewList() creates an empty poll list.
func NewList() *List {
	return &List{}
}

// Add enrolls id at the given poll intensity ("a value's
// polled flag matches membership in the poll list"). Re-adding an
// already-enrolled id updates its intensity in place.
func (l *List) Add(id value.ID, intensity int) {
	if intensity < 1 {
		intensity = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			e.Intensity = intensity
			return
		}
	}
	l.entries = append(l.entries, &PollEntry{ID: id, Intensity: intensity, counter: intensity})
}

// Remove disenrolls id, if present.
func (l *List) Remove(id value.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// Len() reports the number of enrolled values.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Next() runs one pass of steps 2-3: repeatedly pop the head
// entry; if its counter is still above 1, decrement and push it to the
// tail without selecting it; otherwise reset its counter to Intensity,
// push it to the tail, and return it as this cycle's value to refresh.
// Returns ok=false only when the list is empty.
func (l *List) Next() (PollEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if n == 0 {
		return PollEntry{}, false
	}
	for i := 0; i < n; i++ {
		head := l.entries[0]
		l.entries = l.entries[1:]
		if head.counter > 1 {
			head.counter--
			l.entries = append(l.entries, head)
			continue
		}
		head.counter = head.Intensity
		l.entries = append(l.entries, head)
		return *head, true
	}
	// Every entry had counter > 1 and was decremented once; nothing is
	// due this pass.
	return PollEntry{}, false
}
