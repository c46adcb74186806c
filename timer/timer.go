// Package timer implements a sorted-insert timer wheel that delivers
// scheduled callbacks for wake-up deadlines and config-DB re-checks,
// generalized from 32-bit tick counters to wall-clock time.Time so it
// can carry both kinds of deadline in the same list.
package timer

import ("sync"
	"time")

// Timer is one scheduled callback, ordered by When within the Wheel's
// sorted singly-linked list.
type Timer struct {
	When time.Time
	Handler func()
	next *Timer
}

// Wheel is a sorted-insert timer list plus a wake channel that lets Run's
// sleep be interrupted whenever a new, earlier timer is scheduled — the
// direct analogue of insertTimer/TimerDispatch split, using
// a channel instead of disabling interrupts to guard the list.
type Wheel struct {
	mu sync.Mutex
	head *Timer
	wakeCh chan struct{}
}

// New() creates an empty Wheel.
func New() *Wheel {
	return &Wheel{wakeCh: make(chan struct{}, 1)}
}

// Schedule inserts t in sorted order by When (teacher's insertTimer,
// generalized from wraparound tick comparison to time.Time.Before).
func (w *Wheel) Schedule(t *Timer) {
	w.mu.Lock()
	if w.head == nil || t.When.Before(w.head.When) {
		t.next = w.head
		w.head = t
	} else {
		cur := w.head
		for cur.next != nil && !t.When.Before(cur.next.When) {
			cur = cur.next
		}
		t.next = cur.next
		cur.next = t
	}
	w.mu.Unlock()
	w.poke()
}

func (w *Wheel) poke() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Dispatch pops and runs every timer due at or before now (teacher's
// TimerDispatch). Returns the When of the next still-pending timer, or
// the zero time if none remain.
func (w *Wheel) Dispatch(now time.Time) time.Time {
	for {
		w.mu.Lock()
		if w.head == nil || w.head.When.After(now) {
			var next time.Time
			if w.head != nil {
				next = w.head.When
			}
			w.mu.Unlock()
			return next
		}
		t := w.head
		w.head = t.next
		t.next = nil
		w.mu.Unlock()
		t.Handler()
	}
}

// Run drives the wheel until stop is closed, sleeping until the next due
// timer or until a new, earlier one is scheduled (via poke()).
func (w *Wheel) Run(stop <-chan struct{}) {
	for {
		next := w.Dispatch(time.Now())

		var wait <-chan time.Time
		var tm *time.Timer
		if !next.IsZero() {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			tm = time.NewTimer(d)
			wait = tm.C
		}

		select {
		case <-stop:
			if tm != nil {
				tm.Stop()
			}
			return
		case <-w.wakeCh:
			if tm != nil {
				tm.Stop()
			}
		case <-wait:
		}
	}
}
