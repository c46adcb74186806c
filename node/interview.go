package node

import "zwavehost/stage"

// Advance moves n to its next applicable query stage:
// - a dead node short-circuits straight to Complete;
// - the Security stage is skipped for nodes that aren't secured;
// - WakeUp is a pause point for sleeping nodes (callers check Paused
// before enqueueing further queries; Advance itself still moves the
// stage counter forward so a beamed WakeUpNotification resumes from
// the right place).
func (n *Node) Advance() stage.Stage {
	if !n.Alive() {
		n.SetStage(stage.Complete)
		return stage.Complete
	}

	next := n.AdvanceStage()
	for next == stage.Security && !n.secured() {
		next = n.AdvanceStage()
	}
	return next
}

func (n *Node) secured() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Protocol.Security
}

// Paused reports whether the node is sitting at WakeUp awaiting a beam
// before continuing its interview: sleeping nodes that report a
// wake-up CC pause after WakeUp, and remaining stages run on the next
// beam.
func (n *Node) Paused() bool {
	return n.Stage() == stage.WakeUp && !n.IsListening()
}

// Complete reports whether the node has finished its interview pipeline.
func (n *Node) Complete() bool {
	return n.Stage() == stage.Complete
}
