package node

import "sync"

// MaxNodes is the fixed node-table size ("Node table (array of
// 232 slots)").
const MaxNodes = 232

// Table is the driver's node table: a fixed-size slot array guarded by a
// single mutex. It implements txn.NodeTracker so the
// transaction engine can report send outcomes without depending on this
// package directly — Table satisfies the interface structurally.
type Table struct {
	mu sync.RWMutex
	nodes [MaxNodes + 1]*Node // index by NodeID directly; slot 0 unused.
}

// NewTable() creates an empty node table.
func NewTable() *Table {
	return &Table{}
}

// Add installs n at its own NodeID slot, replacing any prior occupant
// (Node "Lifetime: destroyed on node-removed notification or
// controller reset").
func (t *Table) Add(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.ID] = n
}

// Remove deletes the node at id, if present.
func (t *Table) Remove(id byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[id] = nil
}

// Get resolves id to its Node. Per the Open Question resolution in
// DESIGN.md, Get never inspects or acquires a node's own lock — callers
// that need to read/write Node fields do so through Node's own exported,
// individually-locked methods.
func (t *Table) Get(id byte) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.nodes) {
		return nil, false
	}
	n := t.nodes[id]
	return n, n != nil
}

// All() returns a snapshot slice of every currently-installed node.
func (t *Table) All() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, 0, MaxNodes)
	for _, n := range t.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// RecordSendFailure implements txn.NodeTracker ("Dead-node").
func (t *Table) RecordSendFailure(nodeID byte) {
	if n, ok := t.Get(nodeID); ok {
		n.recordFailure()
	}
}

// RecordSendSuccess implements txn.NodeTracker.
func (t *Table) RecordSendSuccess(nodeID byte) {
	if n, ok := t.Get(nodeID); ok {
		n.recordSuccess()
	}
}

// IsListening() implements txn.NodeTracker.
func (t *Table) IsListening(nodeID byte) bool {
	n, ok := t.Get(nodeID)
	if !ok {
		return false
	}
	return n.IsListening()
}

// Touch records an unsolicited-frame revival ("...or an
// unsolicited frame from that node revives it.").
func (t *Table) Touch(nodeID byte, unixSeconds int64) {
	if n, ok := t.Get(nodeID); ok {
		n.touch(unixSeconds)
	}
}

// AllAlive reports whether every installed node is alive, used by the
// interview driver to decide between AllNodesQueried and
// AllNodesQueriedSomeDead: dead nodes short-circuit straight to the
// Complete stage.
func (t *Table) AllAlive() bool {
	for _, n := range t.All() {
		if !n.Alive() {
			return false
		}
	}
	return true
}
