// Package wakeup implements the per-node pending-message
// FIFO for non-listening, non-frequent-listening targets, flushed on
// WakeUpNotification.
package wakeup

import ("sync"

	"zwavehost/ctlcmd"
	"zwavehost/message"
	"zwavehost/queue")

// WakeUpNoMoreInformation is the Wake Up command class command that ends
// a node's awake window; it is never itself deferred.
const WakeUpNoMoreInformation = 0x8008

// WakeUpCommandClassID is the Wake Up command class id, needed to build
// the trailing WakeUpNoMoreInformation message on flush.
const WakeUpCommandClassID = 0x84

// Table holds one pending FIFO per sleeping node, guarded by its own
// mutex since this state is logically independent of the live send
// queues.
type Table struct {
	mu sync.Mutex
	pending map[byte][]queue.Item

	// sleepingCommands tracks a controller command saved because its
	// target went to sleep mid-command ("the controller
	// command is saved, its in-flight state flipped to Sleeping").
	sleepingCommands map[byte]*ctlcmd.Command
}

// NewTable() creates an empty deferral table.
func NewTable() *Table {
	return &Table{pending: make(map[byte][]queue.Item), sleepingCommands: make(map[byte]*ctlcmd.Command)}
}

// Defer appends item to nodeID's pending FIFO (triggers:
// SendMsg for a sleeping target, or a dropped transaction whose target is
// non-listening).
func (t *Table) Defer(nodeID byte, item queue.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[nodeID] = append(t.pending[nodeID], item)
}

// DeferAll appends every item in items, in order, to nodeID's pending
// FIFO. Used by MoveMessagesToWakeUpQueue when a transaction drops.
func (t *Table) DeferAll(nodeID byte, items []queue.Item) {
	if len(items) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[nodeID] = append(t.pending[nodeID], items...)
}

// SaveControllerCommand records cmd as sleeping against nodeID and flips
// its state, for resumption on the node's next wake-up beam.
func (t *Table) SaveControllerCommand(nodeID byte, cmd *ctlcmd.Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cmd.State = ctlcmd.Sleeping
	t.sleepingCommands[nodeID] = cmd
}

// Pending() reports how many items are queued for nodeID.
func (t *Table) Pending(nodeID byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[nodeID])
}

// Flush drains nodeID's pending FIFO in order, appends a trailing
// WakeUpNoMoreInformation send, and returns the full list ready to be
// enqueued onto the driver's WakeUp priority queue ("flushed
// into the driver's WakeUp queue in order; after the last real message, a
// WakeUpNoMoreInformation is appended"). Any sleeping controller command
// is also returned so the caller can resume it.
func (t *Table) Flush(nodeID byte) ([]queue.Item, *ctlcmd.Command) {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := t.pending[nodeID]
	delete(t.pending, nodeID)

	noMoreInfo := message.New(nodeID, 0x13, []byte{nodeID, 0x02, WakeUpCommandClassID, 0x08})
	out := make([]queue.Item, 0, len(items)+1)
	out = append(out, items...)
	out = append(out, queue.SendMsg(noMoreInfo))

	cmd := t.sleepingCommands[nodeID]
	delete(t.sleepingCommands, nodeID)
	return out, cmd
}
