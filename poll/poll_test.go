package poll

import ("testing"

	"zwavehost/value")

func TestNextRespectsIntensityCountdown(t *testing.T) {
	l := NewList()
	a := value.ID{NodeID: 1, Index: 0}
	b := value.ID{NodeID: 1, Index: 1}
	l.Add(a, 3)
	l.Add(b, 1)

	// Each pass selects exactly one entry. b has intensity 1, so it is
	// selected whenever it is reached; a is selected only on every third
	// visit to its slot. Over 9 passes that is a on passes 3 and 7, and b
	// on the other 7.
	var aHits, bHits int
	for i := 0; i < 9; i++ {
		e, ok := l.Next()
		if !ok {
			t.Fatalf("pass %d: expected an entry", i)
		}
		switch e.ID {
		case a:
			aHits++
		case b:
			bHits++
		}
	}
	if bHits != 7 {
		t.Fatalf("expected intensity-1 value to be selected 7 times in 9 passes, got %d", bHits)
	}
	if aHits != 2 {
		t.Fatalf("expected intensity-3 value to be selected 2 times in 9 passes, got %d", aHits)
	}
}

// TestPollFairness checks that with N values at intensity 1, each is
// refreshed at least once per N passes.
func TestPollFairness(t *testing.T) {
	l := NewList()
	ids := []value.ID{
		{NodeID: 1, Index: 0},
		{NodeID: 1, Index: 1},
		{NodeID: 1, Index: 2},
	}
	for _, id := range ids {
		l.Add(id, 1)
	}

	seen := map[value.ID]int{}
	for i := 0; i < len(ids); i++ {
		e, ok := l.Next()
		if !ok {
			t.Fatalf("pass %d: expected an entry", i)
		}
		seen[e.ID]++
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("expected value %v to be refreshed exactly once in %d passes, got %d", id, len(ids), seen[id])
		}
	}
}

func TestRemove(t *testing.T) {
	l := NewList()
	a := value.ID{NodeID: 1, Index: 0}
	l.Add(a, 1)
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Len())
	}
	l.Remove(a)
	if l.Len() != 0 {
		t.Fatalf("expected 0 entries after remove, got %d", l.Len())
	}
	if _, ok := l.Next(); ok {
		t.Fatal("expected Next() to report no entry on an empty list")
	}
}
