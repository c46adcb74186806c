package node

import ("testing"

	"zwavehost/stage")

func TestDeadNodeAfterThreeFailures(t *testing.T) {
	n := New(7)
	if !n.Alive() {
		t.Fatal("new node should start alive")
	}
	n.recordFailure()
	n.recordFailure()
	if !n.Alive() {
		t.Fatal("node should still be alive after two failures")
	}
	n.recordFailure()
	if n.Alive() {
		t.Fatal("node should be dead after three consecutive failures")
	}
}

func TestSuccessRevivesNode(t *testing.T) {
	n := New(7)
	n.recordFailure()
	n.recordFailure()
	n.recordFailure()
	if n.Alive() {
		t.Fatal("precondition: node should be dead")
	}
	n.recordSuccess()
	if !n.Alive() {
		t.Fatal("a successful send should revive a dead node")
	}
}

func TestUnsolicitedFrameRevivesNode(t *testing.T) {
	n := New(7)
	n.recordFailure()
	n.recordFailure()
	n.recordFailure()
	n.touch(12345)
	if !n.Alive() {
		t.Fatal("an unsolicited frame should revive a dead node")
	}
}

func TestAdvanceSkipsSecurityForNonSecureNode(t *testing.T) {
	n := New(3)
	for n.Stage() != stage.Static {
		n.Advance()
	}
	got := n.Advance()
	if got != stage.CacheLoad {
		t.Fatalf("non-secure node should skip Security stage, got %v", got)
	}
}

func TestAdvanceVisitsSecurityForSecureNode(t *testing.T) {
	n := New(9)
	n.Protocol.Security = true
	for n.Stage() != stage.Static {
		n.Advance()
	}
	got := n.Advance()
	if got != stage.Security {
		t.Fatalf("secure node should visit Security stage, got %v", got)
	}
}

func TestDeadNodeShortCircuitsToComplete(t *testing.T) {
	n := New(5)
	n.recordFailure()
	n.recordFailure()
	n.recordFailure()
	got := n.Advance()
	if got != stage.Complete {
		t.Fatalf("dead node should short-circuit to Complete(), got %v", got)
	}
}

func TestPausedAtWakeUpForSleepingNode(t *testing.T) {
	n := New(7)
	for n.Stage() != stage.WakeUp {
		n.Advance()
	}
	if !n.Paused() {
		t.Fatal("a non-listening node sitting at WakeUp should be paused")
	}
}

func TestTableImplementsNodeTracker(t *testing.T) {
	tbl := NewTable()
	n := New(5)
	n.Protocol.Listening = true
	tbl.Add(n)

	if !tbl.IsListening(5) {
		t.Fatal("expected node 5 to be listening")
	}
	tbl.RecordSendFailure(5)
	tbl.RecordSendFailure(5)
	tbl.RecordSendFailure(5)
	got, _ := tbl.Get(5)
	if got.Alive() {
		t.Fatal("expected node 5 to be dead after three recorded failures")
	}
	tbl.RecordSendSuccess(5)
	if !got.Alive() {
		t.Fatal("expected node 5 to be revived")
	}
}

func TestAllAliveSomeDead(t *testing.T) {
	tbl := NewTable()
	alive := New(2)
	dead := New(3)
	dead.recordFailure()
	dead.recordFailure()
	dead.recordFailure()
	tbl.Add(alive)
	tbl.Add(dead)

	if tbl.AllAlive() {
		t.Fatal("expected AllAlive() to be false with one dead node")
	}
}

func TestNeighborBitmap(t *testing.T) {
	n := New(1)
	var bitmap [NeighborBitmapSize]byte
	bitmap[0] = 0b00000100 // bit for node 3
	n.SetNeighbors(bitmap)
	if !n.HasNeighbor(3) {
		t.Fatal("expected node 3 to be a neighbor")
	}
	if n.HasNeighbor(4) {
		t.Fatal("did not expect node 4 to be a neighbor")
	}
}
