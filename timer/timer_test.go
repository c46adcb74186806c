package timer

import ("testing"
	"time")

func TestDispatchRunsDueTimersInOrder(t *testing.T) {
	w := New()
	now := time.Now()
	var order []int
	w.Schedule(&Timer{When: now.Add(20 * time.Millisecond), Handler: func() { order = append(order, 2) }})
	w.Schedule(&Timer{When: now.Add(10 * time.Millisecond), Handler: func() { order = append(order, 1) }})
	w.Schedule(&Timer{When: now.Add(30 * time.Millisecond), Handler: func() { order = append(order, 3) }})

	next := w.Dispatch(now.Add(25 * time.Millisecond))
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected timers 1 then 2 to fire, got %v", order)
	}
	if next.IsZero() {
		t.Fatal("expected timer 3 to remain pending")
	}
}

func TestRunFiresTimerAndStops(t *testing.T) {
	w := New()
	fired := make(chan struct{}, 1)
	w.Schedule(&Timer{When: time.Now().Add(10 * time.Millisecond), Handler: func() { fired <- struct{}{} }})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(stop); close(done) }()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after stop was closed")
	}
}
