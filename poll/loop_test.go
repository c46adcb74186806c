package poll

import ("testing"
	"time"

	"zwavehost/queue"
	"zwavehost/value")

type fakeAwake struct{ listening map[byte]bool }

func (f fakeAwake) IsListening(nodeID byte) bool { return f.listening[nodeID] }
func (f fakeAwake) IsAwake(nodeID byte) bool { return f.listening[nodeID] }

func TestLoopEnqueuesPollForListeningNode(t *testing.T) {
	list := NewList()
	id := value.ID{NodeID: 5, Index: 0}
	list.Add(id, 1)

	sched := queue.New()
	awake := fakeAwake{listening: map[byte]bool{5: true}}
	cfg := DefaultConfig(50 * time.Millisecond)
	cfg.IdleWait = 5 * time.Millisecond
	cfg.SpinStep = time.Millisecond

	loop := NewLoop(cfg, list, sched, awake, func() bool { return true }, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { loop.Run(stop); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sched.Len(queue.Poll) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(stop)
	<-done

	if sched.Len(queue.Poll) == 0 {
		t.Fatal("expected a Poll-priority item to have been enqueued")
	}
	item, _, ok := sched.Pop()
	if !ok || item.Kind != queue.ItemPollValue || item.ValueID != id {
		t.Fatalf("unexpected popped item: %+v ok=%v", item, ok)
	}
}

func TestLoopWaitsWhenAwakeNodesNotQueried(t *testing.T) {
	list := NewList()
	list.Add(value.ID{NodeID: 5}, 1)
	sched := queue.New()
	awake := fakeAwake{listening: map[byte]bool{5: true}}
	cfg := DefaultConfig(50 * time.Millisecond)
	cfg.IdleWait = 10 * time.Millisecond

	loop := NewLoop(cfg, list, sched, awake, func() bool { return false }, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { loop.Run(stop); close(done) }()

	time.Sleep(50 * time.Millisecond)
	if sched.Len(queue.Poll) != 0 {
		t.Fatal("expected no poll enqueue while awake-nodes-queried is false")
	}
	close(stop)
	<-done
}
