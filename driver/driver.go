// Package driver implements the Z-Wave host driver's core: the
// protocol/transport state machine, the per-queue scheduler, the
// node-lifecycle orchestrator, the sleeping-node deferred-delivery
// queues, the Security-CC sub-protocol, and cache/persistence, wired
// together into one long-lived object per HomeId.
//
// A transport-owning object pairs with a higher-level session object,
// each with its own stopChan/doneChan goroutine-shutdown handshake,
// generalized to four long-lived goroutines (driver, poll, DNS, timer).
package driver

import ("context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"zwavehost/cache"
	"zwavehost/configdb"
	"zwavehost/ctlcmd"
	"zwavehost/internal/logging"
	"zwavehost/message"
	"zwavehost/node"
	"zwavehost/notification"
	"zwavehost/poll"
	"zwavehost/queue"
	"zwavehost/security"
	"zwavehost/serialapi"
	"zwavehost/timer"
	"zwavehost/transport"
	"zwavehost/txn"
	"zwavehost/value"
	"zwavehost/wakeup")

// ValueUpdate is what a command-class dispatch hands back when an
// APPLICATION_COMMAND_HANDLER frame changed a value.
type ValueUpdate struct {
	ID value.ID
	Kind value.Kind
	Label string
	Units string
	Raw []byte
	Str string
	PollIntensity int
	VerifyChanges bool
}

// CCHandler is the external contract for command-class decoding: the
// embedding application registers one to turn a raw APPLICATION_COMMAND_
// HANDLER payload into a ValueUpdate. A nil return means the frame wasn't
// a value-bearing report (e.g. a bare ACK-style command).
type CCHandler func(nodeID, ccID, instance byte, payload []byte) *ValueUpdate

// ControllerCapabilities mirrors GetControllerCapabilities, parsed from
// GET_CONTROLLER_CAPABILITIES/SERIAL_API_GET_CAPABILITIES.
type ControllerCapabilities struct {
	Secondary bool
	OnOtherNetwork bool
	SIS bool
	RealPrimary bool
	SUC bool
}

// Driver is one HomeId's worth of state (invariant: "A HomeId
// uniquely identifies an active driver").
type Driver struct {
	opts Options
	log *logging.Logger

	port transport.Port
	codec *serialapi.Codec
	alloc *message.Allocator

	engine *txn.Engine
	sched *queue.Scheduler
	nodes *node.Table
	wake *wakeup.Table
	bus *notification.Bus
	pollList *poll.List
	pollLoop *poll.Loop
	timers *timer.Wheel
	cfg *configdb.Checker

	ccHandler CCHandler

	homeID uint32
	controllerNodeID byte
	caps ControllerCapabilities

	securityEnabled bool
	keys security.Keys

	noncesMu sync.Mutex
	nonces map[byte]*security.NonceStore

	pendingNonceMu sync.Mutex
	pendingEncrypted map[byte]*pendingEncryptedSend

	ccMu sync.Mutex
	activeCmd *ctlcmd.Command

	dbReadyMu sync.Mutex
	dbReady bool

	awakeQueriedMu sync.Mutex
	awakeQueried bool
	allQueried bool

	readyCh chan struct{}
	readyOnce sync.Once

	exitCh chan struct{}
	pollStop chan struct{}
	timerStop chan struct{}
	readableCh chan struct{}
	eventCh chan configdb.Result

	wg sync.WaitGroup

	started bool
	mu sync.Mutex
}

// New() creates a Driver over port, applying opts. It does not open the
// link or start any goroutine; call Start() for that.
func New(port transport.Port, opts Options) *Driver {
	var log *logging.Logger
	if opts.Logging {
		log = logging.New(nil, "zwavehost", logging.Info)
	} else {
		log = logging.Discard()
	}

	d := &Driver{
		opts: opts,
		log: log,
		port: port,
		codec: serialapi.NewCodec(port),
		alloc: message.NewAllocator(),
		sched: queue.New(),
		nodes: node.NewTable(),
		wake: wakeup.NewTable(),
		bus: notification.New(nil),
		pollList: poll.NewList(),
		timers: timer.New(),
		cfg: configdb.New(),
		nonces: make(map[byte]*security.NonceStore),
		pendingEncrypted: make(map[byte]*pendingEncryptedSend),
		readyCh: make(chan struct{}),
		exitCh: make(chan struct{}),
		pollStop: make(chan struct{}),
		timerStop: make(chan struct{}),
		readableCh: make(chan struct{}, 1),
		eventCh: make(chan configdb.Result, 8),
	}
	d.bus = notification.New(d.resolveValue)

	txCfg := txn.Config{AckTimeout: serialapi.DefaultAckTimeout, RetryTimeout: opts.RetryTimeout}
	d.engine = txn.New(d.codec, d.alloc, txCfg, d.nodes, d.onDrop)

	pollCfg := poll.DefaultConfig(opts.PollInterval)
	pollCfg.IntervalBetweenPolls = opts.IntervalBetweenPolls
	d.pollLoop = poll.NewLoop(pollCfg, d.pollList, d.sched, pollAwaiter{d}, d.AwakeNodesQueried, d.onPollStarved)

	return d
}

// SetCommandClassHandler registers the embedding application's
// command-class dispatch contract.
func (d *Driver) SetCommandClassHandler(h CCHandler) { d.ccHandler = h }

// HomeID() returns the controller's network identity, valid once Start() has
// completed MemoryGetId ("HomeId").
func (d *Driver) HomeID() uint32 { return d.homeID }

// ControllerNodeID() returns this host's own node id within the mesh.
func (d *Driver) ControllerNodeID() byte { return d.controllerNodeID }

// Ready() returns a channel closed once the driver has finished its
// bootstrap() sequence and emitted DriverReady ("isReady gate").
func (d *Driver) Ready() <-chan struct{} { return d.readyCh }

// Watch registers fn as a notification watcher.
func (d *Driver) Watch(fn notification.Watcher, ctx any) notification.Handle {
	return d.bus.Register(fn, ctx)
}

// Unwatch removes a previously registered watcher.
func (d *Driver) Unwatch(h notification.Handle) { d.bus.Remove(h) }

// Node resolves id against the node table (Open Question: the
// caller, not Node/Table, owns locking discipline; this simply returns
// the shared *node.Node, whose own exported methods are individually
// locked).
func (d *Driver) Node(id byte) (*node.Node, bool) { return d.nodes.Get(id) }

// Stats snapshots the transaction engine's drop/timeout/retry counters.
func (d *Driver) Stats() txn.Stats { return d.engine.Stats() }

// AwakeNodesQueried reports whether every currently-awake node has
// finished its interview.
func (d *Driver) AwakeNodesQueried() bool {
	d.awakeQueriedMu.Lock()
	defer d.awakeQueriedMu.Unlock()
	return d.awakeQueried
}

// Start() runs the bootstrap() sequence (MemoryGetId, capabilities, cache
// load) then launches the four long-lived goroutines.
func (d *Driver) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.mu.Unlock()

	if err := d.bootstrap(); err != nil {
		d.bus.Enqueue(notification.Notification{Kind: notification.DriverFailed, HomeID: d.homeID})
		d.bus.Drain()
		return err
	}

	d.wg.Add(4)
	go d.runPoll()
	go d.runTimer()
	go d.runReadablePump()
	go d.run()

	d.readyOnce.Do(func() { close(d.readyCh) })
	d.bus.Enqueue(notification.Notification{Kind: notification.DriverReady, HomeID: d.homeID, NodeID: d.controllerNodeID})
	d.bus.Drain()
	return nil
}

// bootstrap() performs the controller-identity and cache-load sequence
// that must complete before any queue traffic flows (Open
// Question resolution: "controller identity must be known before cache
// load").
func (d *Driver) bootstrap() error {
	if _, err := d.bootstrapCall(serialapi.FuncGetVersion, nil); err != nil {
		d.log.Warnf("get_version failed: %v", err)
	}

	idResp, err := d.bootstrapCall(serialapi.FuncMemoryGetID, nil)
	if err != nil {
		return fmt.Errorf("driver: memory_get_id: %w", err)
	}
	if len(idResp) < 5 {
		return fmt.Errorf("%w: short MEMORY_GET_ID reply", ErrUnsupportedController)
	}
	d.homeID = binary.BigEndian.Uint32(idResp[0:4])
	d.controllerNodeID = idResp[4]
	d.log.Infof("controller identity: home=0x%08x node=%d", d.homeID, d.controllerNodeID)

	capResp, err := d.bootstrapCall(serialapi.FuncGetControllerCapabilities, nil)
	if err == nil && len(capResp) >= 1 {
		b := capResp[0]
		d.caps = ControllerCapabilities{
			Secondary: b&0x01 != 0,
			OnOtherNetwork: b&0x02 != 0,
			SIS: b&0x04 != 0,
			RealPrimary: b&0x08 != 0,
			SUC: b&0x10 != 0,
		}
	}
	if d.opts.EnableSIS && !d.caps.SUC {
		if _, err := d.bootstrapCall(serialapi.FuncEnableSUC, []byte{0x01}); err != nil {
			d.log.Warnf("enable_suc failed: %v", err)
		}
	}

	if len(d.opts.NetworkKey) == 16 {
		var nk [16]byte
		copy(nk[:], d.opts.NetworkKey)
		keys, err := security.DeriveKeys(nk)
		if err != nil {
			return fmt.Errorf("driver: security key setup: %w", err)
		}
		d.keys = keys
		d.securityEnabled = true
	}

	if err := d.loadCache(); err != nil {
		d.log.Warnf("cache load skipped: %v", err)
	}

	d.setDBReady(!d.opts.AutoUpdateConfigFile)
	if d.opts.AutoUpdateConfigFile {
		go d.checkConfigRevision()
	}

	return nil
}

// bootstrapCall sends a plain request/response controller call, bypassing
// the queue scheduler ("Command: emergency driver-bootstrap()
// serial-API calls").
func (d *Driver) bootstrapCall(funcID byte, payload []byte) ([]byte, error) {
	msg := message.New(0xFF, funcID, payload)
	msg.ExpectedReply = funcID
	msg.NoCallback = true
	msg.Done = make(chan error, 1)
	if err := d.engine.Send(msg); err != nil {
		return nil, err
	}
	return msg.ReplyPayload, nil
}

// Stop() unwinds the driver's goroutines leaf-first (poll, DNS, driver,
// timer, per) then closes the transport. DNS has no dedicated
// stop channel (each check is a one-shot goroutine); its in-flight
// requests are simply abandoned.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.started = false
	d.mu.Unlock()

	close(d.pollStop)
	close(d.exitCh)
	close(d.timerStop)
	d.wg.Wait()

	if d.opts.SaveConfiguration {
		if err := d.saveCache(); err != nil {
			d.log.Warnf("cache save failed: %v", err)
		}
	}

	if d.opts.NotifyOnDriverUnload {
		d.bus.Enqueue(notification.Notification{Kind: notification.DriverRemoved, HomeID: d.homeID})
		d.bus.Drain()
	}

	return d.port.Close()
}

// loadCache() reads a prior ozwcache snapshot, if one exists, installing its
// nodes at query stage CacheLoad so only the live-refresh stages run()
//. A missing or rejected cache file is not an error for the
// caller; bootstrap() just proceeds with an empty node table.
func (d *Driver) loadCache() error {
	path := cache.Path(d.opts.UserPath, d.homeID)
	nodes, err := cache.Read(path, d.homeID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		d.nodes.Add(n)
	}
	return nil
}

// saveCache() writes every node that has reached CacheLoad to the ozwcache
// snapshot ("SaveConfiguration").
func (d *Driver) saveCache() error {
	path := cache.Path(d.opts.UserPath, d.homeID)
	return cache.Write(path, d.homeID, d.controllerNodeID, d.nodes.All())
}

// checkConfigRevision() runs the manufacturer-DB revision check on the DNS
// thread names, delivering its single Result onto eventCh for
// the driver thread to pick up.
func (d *Driver) checkConfigRevision() {
	deviceKey := fmt.Sprintf("0x%08x", d.homeID)
	fqdn := deviceKey + ".zwave-config-revision.example"
	configURL := "https://zwave-config.example/" + deviceKey + ".xml"
	d.cfg.RunAsync(context.Background(), deviceKey, fqdn, 0, configURL, d.eventCh)
}

// handleConfigResult applies a completed revision check
// arms the wait-gate now that the DB check is no longer pending, surfaces
// a UserAlert, and — per ReloadAfterUpdate — schedules affected nodes for
// re-interview.
func (d *Driver) handleConfigResult(r configdb.Result) {
	d.setDBReady(true)
	if r.Err != nil {
		d.bus.Enqueue(notification.Notification{Kind: notification.UserAlert, HomeID: d.homeID, UserAlert: notification.UserAlertDNSError, Comment: r.Err.Error()})
		return
	}
	if len(r.ConfigFile) == 0 {
		return
	}
	d.bus.Enqueue(notification.Notification{Kind: notification.UserAlert, HomeID: d.homeID, UserAlert: notification.UserAlertConfigFileDownload})
	if d.opts.ReloadAfterUpdate == ReloadNever {
		return
	}
	for _, n := range d.nodes.All() {
		if d.opts.ReloadAfterUpdate == ReloadAwake && !n.IsListening() && !n.Alive() {
			continue
		}
		d.sched.Enqueue(queue.Query, queue.ReloadNode(n.ID))
	}
}

func (d *Driver) setDBReady(ready bool) {
	d.dbReadyMu.Lock()
	d.dbReady = ready
	d.dbReadyMu.Unlock()
}

func (d *Driver) isDBReady() bool {
	d.dbReadyMu.Lock()
	defer d.dbReadyMu.Unlock()
	return d.dbReady
}

// eligiblePriorities() implements 's wait-gating: which queues
// the scheduler may currently draw from.
func (d *Driver) eligiblePriorities() []queue.Priority {
	if !d.isDBReady() {
		return []queue.Priority{queue.Command, queue.NoOp, queue.Controller}
	}
	d.ccMu.Lock()
	active := d.activeCmd != nil
	d.ccMu.Unlock()
	if active {
		return []queue.Priority{queue.Command, queue.NoOp, queue.Controller}
	}
	return []queue.Priority{queue.Command, queue.NoOp, queue.Controller, queue.WakeUp, queue.Send, queue.Query, queue.Poll}
}

// run() is the driver thread it owns every transport read and
// write, via the codec and the transaction engine, and is the sole
// goroutine that ever calls codec.ReadEvent — whether servicing an
// unsolicited frame or driving a transaction to completion — so frames
// are never raced between two readers.
func (d *Driver) run() {
	defer d.wg.Done()
	idle := time.NewTicker(250 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-d.exitCh:
			return
		case r := <-d.eventCh:
			d.handleConfigResult(r)
		case <-d.readableCh:
			d.serviceUnsolicited()
		case <-d.sched.Signal(queue.Command):
		case <-d.sched.Signal(queue.NoOp):
		case <-d.sched.Signal(queue.Controller):
		case <-d.sched.Signal(queue.WakeUp):
		case <-d.sched.Signal(queue.Send):
		case <-d.sched.Signal(queue.Query):
		case <-d.sched.Signal(queue.Poll):
		case <-idle.C:
		}

		d.drainQueues()
		d.bus.Drain()
	}
}

// drainQueues pops and executes every item currently eligible, highest
// priority first, until none remain.
func (d *Driver) drainQueues() {
	for {
		item, pr, ok := d.sched.PopWithin(d.eligiblePriorities())
		if !ok {
			return
		}
		d.handleItem(item, pr)
	}
}

func (d *Driver) handleItem(item queue.Item, pr queue.Priority) {
	switch item.Kind {
	case queue.ItemSendMsg:
		d.dispatchSend(item.Msg)
	case queue.ItemQueryStageComplete:
		d.advanceNodeStage(item.NodeID, item.Stage)
	case queue.ItemController:
		d.runControllerCommand(item.Command)
	case queue.ItemReloadNode:
		d.reinterviewNode(item.NodeID)
	case queue.ItemPollValue:
		d.refreshPollValue(item.ValueID)
	}
}

// onDrop is the txn engine's DropHandler : emit a
// Timeout notification and, for a non-listening target, move any
// remaining queued traffic for it into its wake-up queue.
func (d *Driver) onDrop(msg *message.Message) {
	d.bus.Enqueue(notification.Notification{Kind: notification.Timeout, NodeID: msg.NodeID})
	if !d.nodes.IsListening(msg.NodeID) {
		rest := d.sched.RemoveForNode(msg.NodeID)
		d.wake.DeferAll(msg.NodeID, rest)
	}
}

func (d *Driver) onPollStarved(waited time.Duration) {
	d.log.Warnf("poll loop starved for %s", waited)
}

type pollAwaiter struct{ d *Driver }

func (p pollAwaiter) IsListening(nodeID byte) bool { return p.d.nodes.IsListening(nodeID) }
func (p pollAwaiter) IsAwake(nodeID byte) bool {
	n, ok := p.d.nodes.Get(nodeID)
	if !ok {
		return false
	}
	return n.Alive()
}

func (d *Driver) resolveValue(id value.ID) bool {
	n, ok := d.nodes.Get(id.NodeID)
	if !ok {
		return false
	}
	_, ok = n.Value(id)
	return ok
}

func (d *Driver) runPoll() {
	defer d.wg.Done()
	d.pollLoop.Run(d.pollStop)
}

func (d *Driver) runTimer() {
	defer d.wg.Done()
	d.timers.Run(d.timerStop)
}

// runReadablePump() turns transport.Port.WaitReadable's polling interface
// into the "transport-readable signal()" of , using the slice
// wait specified there as the primitive rather than adding a dedicated
// channel to the Port contract.
func (d *Driver) runReadablePump() {
	defer d.wg.Done()
	for {
		select {
		case <-d.exitCh:
			return
		default:
		}
		ready, err := d.port.WaitReadable(100 * time.Millisecond)
		if err != nil {
			continue
		}
		if ready {
			select {
			case d.readableCh <- struct{}{}:
			default:
			}
		}
	}
}
