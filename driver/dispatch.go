package driver

import ("fmt"
	"time"

	"zwavehost/message"
	"zwavehost/node"
	"zwavehost/notification"
	"zwavehost/queue"
	"zwavehost/security"
	"zwavehost/serialapi"
	"zwavehost/stage"
	"zwavehost/timer"
	"zwavehost/value")

// wakeUpNotification/securityCommandClassID and friends are the
// APPLICATION_COMMAND_HANDLER bytes this driver must recognize unsolicited,
// without a full command-class decoder.
const (wakeUpCommandClassID byte = 0x84
	wakeUpNotification byte = 0x07
	securityCommandClassID byte = security.CommandClassID)

// SendMsg is the driver's send entry point: awake/listening targets go
// straight onto the Send priority queue; sleeping, non-listening targets
// are deferred to their wake-up FIFO instead.
func (d *Driver) SendMsg(msg *message.Message) {
	if n, ok := d.nodes.Get(msg.NodeID); ok && d.nodeAsleep(n) {
		d.wake.Defer(msg.NodeID, queue.SendMsg(msg))
		return
	}
	d.sched.Enqueue(queue.Send, queue.SendMsg(msg))
}

// nodeAsleep reports whether n is a non-listening node currently outside
// its wake-up window. Lacking a literal "awake" bit, the WakeUp-stage
// interview wiring parks a sleeping node's Stage at WakeUp until the beam
// arrives; that parked stage is the signal used here.
func (d *Driver) nodeAsleep(n *node.Node) bool {
	if n.IsListening() {
		return false
	}
	return n.Stage() == stage.WakeUp
}

// dispatchSend executes one popped ItemSendMsg, routing through the
// Security-CC two-round exchange when the message asks for encryption,
// otherwise straight through the transaction engine.
func (d *Driver) dispatchSend(msg *message.Message) {
	if msg.Encrypted {
		if err := d.sendEncrypted(msg); err != nil {
			d.log.Warnf("secure send to node %d: %v", msg.NodeID, err)
		}
		return
	}
	if err := d.engine.Send(msg); err != nil {
		d.log.Warnf("send to node %d: %v", msg.NodeID, err)
	}
}

// pendingEncryptedSend is the continuation parked while the driver waits
// for the peer's NonceReport: the plaintext that will be encrypted and
// sent once it arrives.
type pendingEncryptedSend struct {
	payload []byte
}

// sendEncrypted implements the driver's send-side two-round nonce
// exchange: request a nonce, then return. The ciphertext itself is sent
// later, from completeEncryptedSend, once the peer's NonceReport arrives
// on the driver's single goroutine via serviceUnsolicited. Waiting here
// for the report inline would block that same goroutine from ever
// reading the frame that satisfies the wait.
func (d *Driver) sendEncrypted(msg *message.Message) error {
	nonceGet := security.NonceGetMessage(msg.NodeID)
	if err := d.engine.Send(nonceGet); err != nil {
		return fmt.Errorf("driver: nonce get: %w", err)
	}
	d.armPendingEncryptedSend(msg.NodeID, msg.Payload)
	return nil
}

func (d *Driver) armPendingEncryptedSend(nodeID byte, payload []byte) {
	d.pendingNonceMu.Lock()
	d.pendingEncrypted[nodeID] = &pendingEncryptedSend{payload: payload}
	d.pendingNonceMu.Unlock()
	d.timers.Schedule(&timer.Timer{
		When: time.Now().Add(d.retryTimeout()),
		Handler: func() { d.expirePendingEncryptedSend(nodeID) },
	})
}

// expirePendingEncryptedSend fires from the timer wheel's own goroutine.
// If completeEncryptedSend already consumed the pending entry, this is a
// no-op: the timer has no way to cancel itself once scheduled.
func (d *Driver) expirePendingEncryptedSend(nodeID byte) {
	d.pendingNonceMu.Lock()
	_, ok := d.pendingEncrypted[nodeID]
	delete(d.pendingEncrypted, nodeID)
	d.pendingNonceMu.Unlock()
	if !ok {
		return
	}
	d.log.Warnf("timed out waiting for nonce report from node %d", nodeID)
	d.bus.Enqueue(notification.Notification{Kind: notification.Timeout, NodeID: nodeID, HomeID: d.homeID})
}

// completeEncryptedSend builds and sends the ciphertext frame for the
// encrypted send pending against nodeID, using the nonce carried by its
// NonceReport.
func (d *Driver) completeEncryptedSend(nodeID byte, receiverNonce [8]byte) {
	d.pendingNonceMu.Lock()
	pending, ok := d.pendingEncrypted[nodeID]
	delete(d.pendingEncrypted, nodeID)
	d.pendingNonceMu.Unlock()
	if !ok {
		return
	}

	store := d.nonceStoreFor(nodeID)
	encap, err := security.PrepareEncryptedSend(d.keys, store, d.controllerNodeID, nodeID, receiverNonce[:], pending.payload)
	if err != nil {
		d.log.Warnf("driver: encrypt for node %d: %v", nodeID, err)
		return
	}

	payload := append([]byte{nodeID, byte(len(encap) + 2), securityCommandClassID, security.CmdMessageEncap}, encap...)
	out := message.New(nodeID, serialapi.FuncSendData, payload)
	out.ExpectedReply = serialapi.FuncSendData
	if err := d.engine.Send(out); err != nil {
		d.log.Warnf("secure send to node %d: %v", nodeID, err)
	}
}

func (d *Driver) retryTimeout() time.Duration {
	if d.opts.RetryTimeout > 0 {
		return d.opts.RetryTimeout
	}
	return 40 * time.Second
}

// serviceUnsolicited drains one inbound frame that arrived outside any
// transaction: a node-revival touch, WakeUpNotification, or
// NonceReport/NonceGet from the peer.
func (d *Driver) serviceUnsolicited() {
	if d.engine.InFlight() {
		return
	}
	ev, err := d.codec.ReadEvent(10 * time.Millisecond)
	if err != nil || ev.Kind != serialapi.EventFrame {
		return
	}
	f := ev.Frame
	switch f.Func {
	case serialapi.FuncApplicationCommandHandler:
		d.handleApplicationCommand(f.Payload)
	case serialapi.FuncApplicationUpdate:
		d.handleApplicationUpdate(f.Payload)
	case serialapi.FuncAddNodeToNetwork, serialapi.FuncRemoveNodeFromNetwork:
		d.handleControllerStatus(f.Payload)
	case serialapi.FuncIsFailedNodeID, serialapi.FuncRemoveFailedNodeID, serialapi.FuncReplaceFailedNode:
		d.handleFailedNodeStatus(f.Payload)
	}
}

// handleApplicationCommand parses the rxStatus|sourceNode|length|ccID|...
// layout the Sigma Designs Serial API uses for
// APPLICATION_COMMAND_HANDLER.
func (d *Driver) handleApplicationCommand(payload []byte) {
	if len(payload) < 4 {
		return
	}
	sourceNodeID := payload[1]
	ccID := payload[3]

	d.nodes.Touch(sourceNodeID, time.Now().Unix())

	if ccID == wakeUpCommandClassID {
		if len(payload) >= 5 && payload[4] == wakeUpNotification {
			d.onWakeUpNotification(sourceNodeID)
			return
		}
	}

	if ccID == securityCommandClassID {
		d.handleSecurityCommand(sourceNodeID, payload[4:])
		return
	}

	if d.ccHandler == nil {
		return
	}
	instance := byte(1)
	body := payload[4:]
	upd := d.ccHandler(sourceNodeID, ccID, instance, body)
	if upd == nil {
		return
	}
	d.applyValueUpdate(sourceNodeID, upd)
}

func (d *Driver) applyValueUpdate(nodeID byte, upd *ValueUpdate) {
	n, ok := d.nodes.Get(nodeID)
	if !ok {
		return
	}

	raw := upd.Raw
	if upd.Str != "" {
		raw = []byte(upd.Str)
	}

	if existing, hadValue := n.Value(upd.ID); hadValue {
		existing.Label = upd.Label
		existing.Units = upd.Units
		existing.PollIntensity = upd.PollIntensity
		existing.VerifyChanges = upd.VerifyChanges
		if !existing.BeginVerify(raw) {
			return
		}
		if upd.Str != "" {
			existing.SetString(upd.Str)
		} else {
			existing.SetRaw(upd.Raw)
		}
		d.bus.Enqueue(notification.Notification{Kind: notification.ValueChanged, NodeID: nodeID, ValueID: upd.ID, HomeID: d.homeID})
		return
	}

	v := value.New(upd.ID, upd.Kind)
	v.Label = upd.Label
	v.Units = upd.Units
	v.PollIntensity = upd.PollIntensity
	v.VerifyChanges = upd.VerifyChanges
	if upd.Str != "" {
		v.SetString(upd.Str)
	} else {
		v.SetRaw(upd.Raw)
	}
	n.SetValue(v)
	d.bus.Enqueue(notification.Notification{Kind: notification.ValueAdded, NodeID: nodeID, ValueID: upd.ID, HomeID: d.homeID})
}

// handleSecurityCommand dispatches the three unsolicited Security-CC
// commands the driver itself must understand: the peer's own NonceGet
// (we reply with a fresh nonce), a NonceReport answering our NonceGet,
// and an encrypted MessageEncap from the peer.
func (d *Driver) handleSecurityCommand(nodeID byte, body []byte) {
	if len(body) == 0 {
		return
	}
	switch body[0] {
	case security.CmdNonceGet:
		d.replyWithNonce(nodeID)
	case security.CmdNonceReport:
		if len(body) < 9 {
			return
		}
		var nonce [8]byte
		copy(nonce[:], body[1:9])
		d.completeEncryptedSend(nodeID, nonce)
	case security.CmdMessageEncap:
		d.decryptIncoming(nodeID, body[1:])
	}
}

func (d *Driver) replyWithNonce(nodeID byte) {
	store := d.nonceStoreFor(nodeID)
	nonce, err := store.Generate()
	if err != nil {
		d.bus.Enqueue(notification.Notification{Kind: notification.UserAlert, NodeID: nodeID, UserAlert: notification.UserAlertNonceGenerationFailed})
		return
	}
	payload := append([]byte{nodeID, 0x0a, securityCommandClassID, security.CmdNonceReport}, nonce[:]...)
	report := message.New(nodeID, serialapi.FuncSendData, payload)
	report.NoCallback = true
	d.sched.Enqueue(queue.Command, queue.SendMsg(report))
}

func (d *Driver) decryptIncoming(nodeID byte, payload []byte) {
	if len(payload) < 8+1+security.MACSize {
		return
	}
	receiverNonceID := payload[len(payload)-security.MACSize-1]
	store := d.nonceStoreFor(nodeID)
	receiverNonce, ok := store.Take(receiverNonceID)
	if !ok {
		return
	}
	dec, err := security.Decapsulate(d.keys, receiverNonce, nodeID, d.controllerNodeID, payload)
	if err != nil {
		d.log.Warnf("security decapsulate from node %d: %v", nodeID, err)
		return
	}
	if len(dec.Plaintext) < 1 || d.ccHandler == nil {
		return
	}
	upd := d.ccHandler(nodeID, dec.Plaintext[0], 1, dec.Plaintext)
	if upd != nil {
		d.applyValueUpdate(nodeID, upd)
	}
}

func (d *Driver) nonceStoreFor(nodeID byte) *security.NonceStore {
	d.noncesMu.Lock()
	defer d.noncesMu.Unlock()
	store, ok := d.nonces[nodeID]
	if !ok {
		store = security.NewNonceStore()
		d.nonces[nodeID] = store
	}
	return store
}

// onWakeUpNotification flushes the node's deferred FIFO onto the WakeUp
// priority queue and resumes any sleeping controller command.
func (d *Driver) onWakeUpNotification(nodeID byte) {
	items, cmd := d.wake.Flush(nodeID)
	for _, it := range items {
		d.sched.Enqueue(queue.WakeUp, it)
	}
	if cmd != nil {
		d.sched.Enqueue(queue.Controller, queue.ControllerItem(cmd))
	}
	if n, ok := d.nodes.Get(nodeID); ok && n.Stage() == stage.WakeUp {
		d.sched.Enqueue(queue.Query, queue.QueryStageComplete(nodeID, stage.WakeUp))
	}
	d.bus.Enqueue(notification.Notification{Kind: notification.NodeAwake, NodeID: nodeID, HomeID: d.homeID})
}

func (d *Driver) handleApplicationUpdate(payload []byte) {
	if len(payload) == 0 {
		return
	}
	// UPDATE_STATE_NODE_INFO_RECEIVED is the only ApplicationUpdate variant
	// the interview pipeline acts on; the rest are routing/SUC housekeeping
	// this driver doesn't decode (scoping).
	const updateStateNodeInfoReceived = 0x84
	if payload[0] != updateStateNodeInfoReceived || len(payload) < 2 {
		return
	}
	nodeID := payload[1]
	d.nodes.Touch(nodeID, time.Now().Unix())
	if n, ok := d.nodes.Get(nodeID); ok && (n.Stage() == stage.NodeInfo || n.Stage() == stage.NodePlusInfo) {
		d.sched.Enqueue(queue.Query, queue.QueryStageComplete(nodeID, n.Stage()))
	}
}
