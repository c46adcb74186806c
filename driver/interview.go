package driver

import ("fmt"

	"zwavehost/controller"
	"zwavehost/ctlcmd"
	"zwavehost/message"
	"zwavehost/node"
	"zwavehost/notification"
	"zwavehost/queue"
	"zwavehost/security"
	"zwavehost/serialapi"
	"zwavehost/stage"
	"zwavehost/value")

// EnqueueController submits cmd to the Controller priority queue (it
//). The caller (typically the manager façade) waits on cmd.Done for
// completion.
func (d *Driver) EnqueueController(cmd *ctlcmd.Command) {
	d.sched.Enqueue(queue.Controller, queue.ControllerItem(cmd))
}

// CancelControllerCommand sends the cancel/"stop" frame for a cancellable
// in-flight command.
func (d *Driver) CancelControllerCommand(cmd *ctlcmd.Command) error {
	stopMsg, ok := controller.BuildStop(cmd)
	if !ok {
		return fmt.Errorf("driver: controller command %v does not support cancel", cmd.Kind)
	}
	stopMsg.NoCallback = true
	cmd.SetState(ctlcmd.Cancel)
	return d.engine.Send(stopMsg)
}

// runControllerCommand pops and drives one network-management command
//. Single-step kinds (route/neighbor/SUC management)
// complete on their own RESPONSE ack; multi-step kinds (add/remove
// replace/learn-mode) stay "in progress" until handleControllerStatus
// observes their terminal status byte on an unsolicited frame of the same
// function id.
func (d *Driver) runControllerCommand(cmd *ctlcmd.Command) {
	d.ccMu.Lock()
	d.activeCmd = cmd
	d.ccMu.Unlock()

	cmd.SetState(ctlcmd.InProgress)
	msg := controller.BuildStart(cmd)
	msg.ExpectedReply = msg.FuncID
	// Every controller-command kind except ReplicationSend completes on
	// its own RESPONSE ack; the real outcome, for the multi-step kinds,
	// arrives later as an unsolicited status frame that serviceUnsolicited()
	// routes to handleControllerStatus/handleFailedNodeStatus, entirely
	// outside this transaction.
	msg.NoCallback = msg.FuncID != serialapi.FuncSendData
	if err := d.engine.Send(msg); err != nil {
		cmd.SetState(ctlcmd.Error)
		d.finishControllerCommand(cmd)
		return
	}

	if !isMultiStepControllerKind(cmd.Kind) {
		cmd.SetState(ctlcmd.Completed)
		d.finishControllerCommand(cmd)
	}
}

func isMultiStepControllerKind(k ctlcmd.Kind) bool {
	switch k {
	case ctlcmd.AddDevice, ctlcmd.RemoveDevice, ctlcmd.CreateNewPrimary,
		ctlcmd.TransferPrimaryRole, ctlcmd.ReceiveConfiguration, ctlcmd.SetLearnMode,
		ctlcmd.RemoveFailedNode, ctlcmd.ReplaceFailedNode, ctlcmd.HasNodeFailed:
		return true
	default:
		return false
	}
}

// handleControllerStatus advances the active add/remove-style command from
// an unsolicited status frame sharing its function id (/ ported status switch in controller.HandleAddRemoveStatus).
func (d *Driver) handleControllerStatus(payload []byte) {
	d.ccMu.Lock()
	cmd := d.activeCmd
	d.ccMu.Unlock()
	if cmd == nil {
		return
	}
	outcome := controller.HandleAddRemoveStatus(cmd, payload)
	if outcome.StartInterview {
		d.beginNodeInterview(outcome.NodeID)
	}
	if outcome.Stopped {
		if stopMsg, ok := controller.BuildStop(cmd); ok {
			stopMsg.NoCallback = true
			if err := d.engine.Send(stopMsg); err != nil {
				d.log.Warnf("controller command %v: send stop: %v", cmd.Kind, err)
			}
		}
	}
	if isTerminalState(cmd.State) {
		d.finishControllerCommand(cmd)
	}
}

// handleFailedNodeStatus advances a HasNodeFailed/RemoveFailedNode
// ReplaceFailedNode command from its single-byte reply.
func (d *Driver) handleFailedNodeStatus(payload []byte) {
	if len(payload) == 0 {
		return
	}
	d.ccMu.Lock()
	cmd := d.activeCmd
	d.ccMu.Unlock()
	if cmd == nil {
		return
	}
	controller.HandleFailedNodeStatus(cmd, payload[0])
	if isTerminalState(cmd.State) {
		d.finishControllerCommand(cmd)
	}
}

func isTerminalState(s ctlcmd.State) bool {
	switch s {
	case ctlcmd.Completed, ctlcmd.Failed, ctlcmd.Error, ctlcmd.Cancel, ctlcmd.NodeOK, ctlcmd.NodeFailed:
		return true
	default:
		return false
	}
}

// finishControllerCommand clears the active-command gate, re-asserts the
// command's terminal state through SetState (so its Done channel fires;
// controller.Handle* set the State field directly, bypassing that), and
// surfaces a ControllerCommand notification.
func (d *Driver) finishControllerCommand(cmd *ctlcmd.Command) {
	d.ccMu.Lock()
	if d.activeCmd == cmd {
		d.activeCmd = nil
	}
	d.ccMu.Unlock()
	cmd.SetState(cmd.State)
	d.bus.Enqueue(notification.Notification{Kind: notification.ControllerCommand, NodeID: cmd.Target, HomeID: d.homeID})
}

// beginNodeInterview installs a freshly-added node and kicks off its
// interview pipeline at ProtocolInfo ("InitNode").
func (d *Driver) beginNodeInterview(nodeID byte) {
	n := node.New(nodeID)
	d.nodes.Add(n)
	d.bus.Enqueue(notification.Notification{Kind: notification.NodeAdded, NodeID: nodeID, HomeID: d.homeID})
	d.completeStage(n, stage.None)
}

// reinterviewNode restarts nodeID's interview from the top (/ ReloadNode, "ReloadAfterUpdate").
func (d *Driver) reinterviewNode(nodeID byte) {
	n, ok := d.nodes.Get(nodeID)
	if !ok {
		n = node.New(nodeID)
		d.nodes.Add(n)
	}
	n.SetStage(stage.None)
	d.completeStage(n, stage.None)
}

// refreshPollValue issues a schematic value refresh for id (/ step 5). The actual Get/Report command ids are command-class-specific
// and out of this driver's scope; this sends a generic
// single-byte Get (command id 0x02, conventional across most Z-Wave
// command classes) and leaves real decoding to the registered CCHandler.
func (d *Driver) refreshPollValue(id value.ID) {
	msg := message.New(id.NodeID, serialapi.FuncSendData, []byte{id.NodeID, 0x02, id.CommandClassID, 0x02})
	d.SendMsg(msg)
}

// advanceNodeStage moves a node past the stage it just completed and
// drives the next one ("on dequeue the node advances").
// It is a no-op if the node has since moved past completed (e.g. a
// reinterview reset it), preventing stale completions from corrupting a
// fresher interview pass. node.Advance picks the next stage, so a dead
// node goes straight to Complete and a non-secure node skips Security.
func (d *Driver) advanceNodeStage(nodeID byte, completed stage.Stage) {
	n, ok := d.nodes.Get(nodeID)
	if !ok {
		return
	}
	if n.Stage() != completed {
		return
	}
	next := n.Advance()
	d.runStage(n, next)
}

// completeStage enqueues the QueryStageComplete item that carries st to
// advanceNodeStage's next pass.
func (d *Driver) completeStage(n *node.Node, st stage.Stage) {
	d.sched.Enqueue(queue.Query, queue.QueryStageComplete(n.ID, st))
}

// runStage performs the wire-facing work for one interview stage (it
//). Stages whose semantics are entirely command-class-specific
// (Instances, Static, Associations, Session, Dynamic, Configuration) are
// out of this driver's scope ("only the contract they
// implement is specified") and auto-complete immediately; a registered
// CCHandler can still act on their traffic via ApplicationCommandHandler,
// independent of the stage machine.
func (d *Driver) runStage(n *node.Node, st stage.Stage) {
	switch st {
	case stage.ProtocolInfo:
		d.stageProtocolInfo(n)
	case stage.WakeUp:
		d.stageWakeUp(n)
	case stage.NodeInfo:
		d.stageNodeInfo(n)
	case stage.Security:
		d.stageSecurity(n)
	case stage.Neighbors:
		d.stageNeighbors(n)
	case stage.Complete:
		d.onNodeComplete(n)
	default:
		d.completeStage(n, st)
	}
}

func (d *Driver) stageProtocolInfo(n *node.Node) {
	msg := message.New(n.ID, serialapi.FuncGetNodeProtocolInfo, []byte{n.ID})
	msg.ExpectedReply = serialapi.FuncGetNodeProtocolInfo
	msg.NoCallback = true
	if err := d.engine.Send(msg); err != nil {
		d.log.Warnf("protocol info for node %d: %v", n.ID, err)
		d.completeStage(n, stage.ProtocolInfo)
		return
	}
	if b := msg.ReplyPayload; len(b) >= 5 {
		n.Protocol = node.ProtocolInfo{
			Listening: b[0]&0x80 != 0,
			FrequentListening: b[0]&0x60 != 0 && b[0]&0x80 == 0,
			Routing: b[0]&0x10 != 0,
			Beaming: b[2]&0x10 != 0,
			Security: b[1]&0x01 != 0,
			BaudClass: b[0] & 0x07,
			Basic: b[2],
			Generic: b[3],
			Specific: b[4],
		}
	}
	d.completeStage(n, stage.ProtocolInfo)
}

// stageWakeUp parks a non-listening node here until its WakeUpNotification
// arrives (dispatch.go's onWakeUpNotification advances it); listening
// nodes pass straight through ("Sleeping nodes: pause at
// WakeUp").
func (d *Driver) stageWakeUp(n *node.Node) {
	if n.IsListening() {
		d.completeStage(n, stage.WakeUp)
	}
}

// stageNodeInfo requests the node's command-class list; the answer
// arrives as an unsolicited ApplicationUpdate (dispatch.go's
// handleApplicationUpdate advances this stage).
func (d *Driver) stageNodeInfo(n *node.Node) {
	msg := message.New(n.ID, serialapi.FuncRequestNodeInfo, []byte{n.ID})
	msg.NoCallback = true
	if err := d.engine.Send(msg); err != nil {
		d.log.Warnf("request node info for node %d: %v", n.ID, err)
		d.completeStage(n, stage.NodeInfo)
	}
}

// stageSecurity performs a minimal SchemeGet round for nodes that report
// the security bit, exercising the Security command class during the
// interview ('s scheme negotiation is otherwise out of scope
// beyond the nonce/encap sub-protocol this driver implements).
func (d *Driver) stageSecurity(n *node.Node) {
	if !d.securityEnabled || !n.Protocol.Security {
		d.completeStage(n, stage.Security)
		return
	}
	msg := message.New(n.ID, serialapi.FuncSendData, []byte{n.ID, 0x02, security.CommandClassID, security.CmdSchemeGet})
	msg.ExpectedReply = serialapi.FuncSendData
	msg.ExpectedCommandClassID = security.CommandClassID
	msg.ExpectedNodeID = n.ID
	if err := d.engine.Send(msg); err != nil {
		d.log.Warnf("security scheme get for node %d: %v", n.ID, err)
	}
	d.completeStage(n, stage.Security)
}

func (d *Driver) stageNeighbors(n *node.Node) {
	msg := message.New(n.ID, serialapi.FuncGetRoutingInfo, []byte{n.ID, 0x00, 0x00, 0x00})
	msg.ExpectedReply = serialapi.FuncGetRoutingInfo
	msg.NoCallback = true
	if err := d.engine.Send(msg); err == nil {
		if len(msg.ReplyPayload) >= node.NeighborBitmapSize {
			var bitmap [node.NeighborBitmapSize]byte
			copy(bitmap[:], msg.ReplyPayload[:node.NeighborBitmapSize])
			n.SetNeighbors(bitmap)
		}
	} else {
		d.log.Warnf("get routing info for node %d: %v", n.ID, err)
	}
	d.completeStage(n, stage.Neighbors)
}

func (d *Driver) onNodeComplete(n *node.Node) {
	d.bus.Enqueue(notification.Notification{Kind: notification.NodeQueriesComplete, NodeID: n.ID, HomeID: d.homeID})
	d.checkAllNodesQueried()
}

// checkAllNodesQueried() emits AllNodesQueried/AllNodesQueriedSomeDead once
// every installed node has reached Complete() (branch "Dead
// nodes short-circuit to Complete()").
func (d *Driver) checkAllNodesQueried() {
	all := d.nodes.All()
	if len(all) == 0 {
		return
	}
	anyDead := false
	for _, nd := range all {
		if nd.Stage() != stage.Complete {
			return
		}
		if !nd.Alive() {
			anyDead = true
		}
	}
	d.awakeQueriedMu.Lock()
	d.awakeQueried = true
	d.allQueried = true
	d.awakeQueriedMu.Unlock()

	kind := notification.AllNodesQueried
	if anyDead {
		kind = notification.AllNodesQueriedSomeDead
	}
	d.bus.Enqueue(notification.Notification{Kind: kind, HomeID: d.homeID})
}
