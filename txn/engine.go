// Package txn implements the transaction engine correlating
// callback id expected reply expected command class with inbound
// frames, plus retry, timeout and drop handling.
package txn

import ("fmt"
	"sync"
	"time"

	"zwavehost/message"
	"zwavehost/serialapi")

// Config bounds the engine's timeouts ("RetryTimeout" option).
type Config struct {
	AckTimeout time.Duration
	RetryTimeout time.Duration
}

// DefaultConfig() matches its defaults (ACK 1500ms, RETRY 40s).
func DefaultConfig() Config {
	return Config{AckTimeout: serialapi.DefaultAckTimeout, RetryTimeout: 40 * time.Second}
}

// NodeTracker receives dead/alive signals derived from send outcomes
// ("Dead-node" rules). The driver's node table implements it;
// the engine never reaches into the node table directly.
type NodeTracker interface {
	RecordSendFailure(nodeID byte)
	RecordSendSuccess(nodeID byte)
	IsListening(nodeID byte) bool
}

// Stats counts drop/timeout events for tests and diagnostics.
type Stats struct {
	mu sync.Mutex
	Dropped uint64
	Timeouts uint64
	Retries uint64
}

func (s *Stats) recordDrop() { s.mu.Lock(); s.Dropped++; s.mu.Unlock() }
func (s *Stats) recordTimeout() { s.mu.Lock(); s.Timeouts++; s.mu.Unlock() }
func (s *Stats) recordRetry() { s.mu.Lock(); s.Retries++; s.mu.Unlock() }

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Dropped: s.Dropped, Timeouts: s.Timeouts, Retries: s.Retries}
}

// DropHandler is invoked when a message is dropped after exhausting its
// attempts, so the driver can emit a Timeout notification and, for a
// non-listening target, move the message to its wake-up queue.
type DropHandler func(msg *message.Message)

// Engine owns the single in-flight transaction for one driver: at most
// one Message is in flight per driver at any moment.
type Engine struct {
	codec *serialapi.Codec
	alloc *message.Allocator
	cfg Config
	tracker NodeTracker
	onDrop DropHandler
	stats Stats

	mu sync.Mutex
	current *message.Message
	waitingForAck bool
	expectedCallbackID byte
	expectedReply byte
	expectedCommandClassID byte
	expectedNodeID byte
}

// New() creates an Engine over codec, using alloc for callback-id assignment.
func New(codec *serialapi.Codec, alloc *message.Allocator, cfg Config, tracker NodeTracker, onDrop DropHandler) *Engine {
	return &Engine{codec: codec, alloc: alloc, cfg: cfg, tracker: tracker, onDrop: onDrop}
}

// Stats snapshots the engine's counters.
func (e *Engine) Stats() Stats { return e.stats.Snapshot() }

// InFlight() reports whether a message is currently awaiting ACK or
// completion (used by the driver's wait-gating logic).
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Send drives one message through the full ACK/CAN/NAK handshake and the
// reply/callback wait, retrying until it completes or is dropped. It
// blocks the caller (the driver's single scheduler loop) for the
// duration of the transaction, preserving single-flight.
func (e *Engine) Send(msg *message.Message) error {
	e.mu.Lock()
	e.current = msg
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}()

	for {
		if msg.Attempts == 0 {
			if !msg.NoCallback {
				msg.CallbackID = e.allocateCallback(msg)
			}
			msg.Attempts = 1
		} else {
			e.stats.recordRetry()
			msg.BumpForRetransmit(e.alloc)
		}

		e.arm(msg)

		ackErr := e.writeAndWaitAck(msg)
		if ackErr == ErrCanReceived {
			msg.AddAttempt()
			if msg.ExceededAttempts() {
				return e.drop(msg)
			}
			continue
		}
		if ackErr != nil {
			if e.tracker != nil {
				e.tracker.RecordSendFailure(msg.NodeID)
			}
			if msg.ExceededAttempts() {
				return e.drop(msg)
			}
			continue
		}

		if msg.ExpectedReply == 0 && msg.CallbackID == 0 {
			if e.tracker != nil {
				e.tracker.RecordSendSuccess(msg.NodeID)
			}
			msg.Complete(nil)
			return nil
		}

		completed, err := e.waitForCompletion(msg)
		if completed {
			if e.tracker != nil {
				e.tracker.RecordSendSuccess(msg.NodeID)
			}
			msg.Complete(nil)
			return nil
		}
		_ = err
		e.stats.recordTimeout()
		if msg.ExceededAttempts() {
			return e.drop(msg)
		}
	}
}

func (e *Engine) allocateCallback(msg *message.Message) byte {
	if msg.CallbackID != 0 {
		return msg.CallbackID
	}
	return e.alloc.Next()
}

func (e *Engine) arm(msg *message.Message) {
	e.mu.Lock()
	e.expectedCallbackID = msg.CallbackID
	e.expectedReply = msg.ExpectedReply
	e.expectedCommandClassID = msg.ExpectedCommandClassID
	e.expectedNodeID = msg.ExpectedNodeID
	e.mu.Unlock()
}

// writeAndWaitAck sends the frame and waits up to AckTimeout for the
// controller's ACK, surfacing CAN/NAK/timeout distinctly.
func (e *Engine) writeAndWaitAck(msg *message.Message) error {
	frame := serialapi.Frame{Type: serialapi.TypeRequest, Func: msg.FuncID, Payload: msg.Encode()}
	if err := e.codec.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteShort, err)
	}

	e.mu.Lock()
	e.waitingForAck = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.waitingForAck = false
		e.mu.Unlock()
	}()

	deadline := time.Now().Add(e.cfg.AckTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrAckTimeout
		}
		ev, err := e.codec.ReadEvent(remaining)
		if err != nil {
			return ErrAckTimeout
		}
		switch ev.Kind {
		case serialapi.EventControl:
			switch ev.Control {
			case serialapi.ACK:
				return nil
			case serialapi.NAK:
				return ErrNakReceived
			case serialapi.CAN:
				return ErrCanReceived
			}
		case serialapi.EventFrame:
			// An unsolicited frame interleaved before our ACK; it was
			// already link-layer ACKed by the codec. It cannot complete
			// this transaction (we haven't armed expectations against it
			// meaningfully until our own ACK lands), so just keep waiting.
			continue
		}
	}
}

// waitForCompletion waits, bounded by RetryTimeout, for the frame that
// satisfies the message's completion rule.
func (e *Engine) waitForCompletion(msg *message.Message) (bool, error) {
	replyPending := msg.ExpectedReply != 0
	deadline := time.Now().Add(e.cfg.RetryTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, ErrTimeoutNoReply
		}
		ev, err := e.codec.ReadEvent(remaining)
		if err != nil {
			return false, ErrTimeoutNoReply
		}
		switch ev.Kind {
		case serialapi.EventControl:
			if ev.Control == serialapi.ACK && !replyPending && msg.CallbackID == 0 {
				return true, nil
			}
		case serialapi.EventFrame:
			f := ev.Frame
			if replyPending && f.Type == serialapi.TypeResponse && f.Func == msg.ExpectedReply {
				replyPending = false
				msg.ReplyPayload = f.Payload
				// A nonce-reserved callback id (1..9) can never be
				// satisfied by a later REQUEST match, so its own
				// transaction completes here, on the RESPONSE
				// ack, the same as a callback-less message. The actual
				// NonceReport arrives later as its own unsolicited frame.
				if msg.CallbackID == 0 || msg.CallbackID <= message.CallbackReservedMax {
					return true, nil
				}
				continue
			}
			if f.Type == serialapi.TypeRequest && !replyPending {
				if e.matchesCallback(f, msg) {
					msg.ReplyPayload = f.Payload
					return true, nil
				}
			}
		}
	}
}

// matchesCallback applies the message's REQUEST completion rule:
// callback id match, plus source/command-class checks.
func (e *Engine) matchesCallback(f serialapi.Frame, msg *message.Message) bool {
	if len(f.Payload) == 0 {
		return false
	}
	cb := f.Payload[0]
	if cb <= message.CallbackReservedMax {
		// Reserved for nonce traffic; never signals a non-nonce completion.
		return false
	}
	if cb != msg.CallbackID {
		return false
	}
	if msg.ExpectedCommandClassID != 0 && f.Func == serialapi.FuncApplicationCommandHandler {
		if len(f.Payload) < 4 {
			return false
		}
		sourceNodeID := f.Payload[1]
		ccID := f.Payload[3]
		if ccID != msg.ExpectedCommandClassID {
			return false
		}
		if !e.isExpectedSource(msg.ExpectedNodeID, sourceNodeID, f.Func) {
			return false
		}
	}
	return true
}

// isExpectedSource applies the expected-reply source/class matching rule.
func (e *Engine) isExpectedSource(expectedNodeID, sourceNodeID, replyFunc byte) bool {
	if expectedNodeID == 0xFF {
		return true
	}
	if sourceNodeID == 0 {
		return true
	}
	if serialapi.IsNoSourceFunc(replyFunc) {
		return true
	}
	return sourceNodeID == expectedNodeID
}

func (e *Engine) drop(msg *message.Message) error {
	e.stats.recordDrop()
	if e.onDrop != nil {
		e.onDrop(msg)
	}
	msg.Complete(ErrDropped)
	return ErrDropped
}
