// Package message defines the Serial API request/response carrier used by
// the queue scheduler and transaction engine: its Message and
// MsgQueueItem, plus callback-id allocation.
package message

import "sync/atomic"

// Callback id ranges: 1..9 are reserved for Security-CC
// nonce traffic; ordinary transactions use 10..255, wrapping back to 10.
const (CallbackNonceGet = 2
	CallbackReservedMax = 9
	callbackFirst = 10
	callbackMax = 255)

// Allocator hands out monotonically increasing callback ids, skipping the
// nonce-reserved range and wrapping at 255.
type Allocator struct {
	next atomic.Uint32
}

// NewAllocator() creates an Allocator starting at the first non-reserved id.
func NewAllocator() *Allocator {
	a := &Allocator{}
	a.next.Store(callbackFirst)
	return a
}

// Next() returns the next callback id and advances the counter.
func (a *Allocator) Next() byte {
	for {
		cur := a.next.Load()
		nxt := cur + 1
		if nxt > callbackMax {
			nxt = callbackFirst
		}
		if a.next.CompareAndSwap(cur, nxt) {
			return byte(cur)
		}
	}
}

// Message is one Serial API request carrier: target node, function id,
// payload, and the bookkeeping the transaction engine needs to correlate
// and retry it ("Message").
type Message struct {
	NodeID byte
	FuncID byte

	// Payload is the function-specific argument bytes, not including the
	// callback id (Encode appends CallbackID after it when the message
	// carries one).
	Payload []byte

	CallbackID byte

	// NoCallback marks a function that has no callback byte on the wire
	// at all (GET_VERSION, MEMORY_GET_ID, GET_NODE_PROTOCOL_INFO, and
	// the controller-command family's initiating frames, whose actual
	// completion is an unsolicited status frame the driver handles
	// outside the transaction engine). The engine never assigns it a
	// callback id and completes it on the matching RESPONSE alone,
	// rather than waiting for a REQUEST echo that will never arrive.
	NoCallback bool

	// ExpectedReply/ExpectedCommandClassID/ExpectedNodeID are the
	// transaction engine's completion keys.
	ExpectedReply byte
	ExpectedCommandClassID byte
	ExpectedNodeID byte

	Attempts int
	MaxAttempts int

	Encrypted bool
	NonceReceived bool
	DeferredNonce []byte

	// ReplyPayload holds the matching RESPONSE or REQUEST frame's payload
	// once the transaction engine completes this message,
	// for callers that need the controller's answer (MEMORY_GET_ID,
	// GET_CONTROLLER_CAPABILITIES, and similar query-style calls).
	ReplyPayload []byte

	// Done, when non-nil, receives the outcome and is closed by the transaction
	// engine when this message's transaction finishes (success or drop).
	Done chan error
}

// DefaultMaxAttempts is the default per-message retry budget.
const DefaultMaxAttempts = 3

// New() creates a Message with default attempt bookkeeping.
func New(nodeID, funcID byte, payload []byte) *Message {
	return &Message{
		NodeID: nodeID,
		FuncID: funcID,
		Payload: payload,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Encode() returns the on-wire payload, appending the callback id when one
// has been assigned and the message carries one (SendData-style functions
// always do; bare controller queries typically don't).
func (m *Message) Encode() []byte {
	if m.CallbackID == 0 {
		return m.Payload
	}
	out := make([]byte, 0, len(m.Payload)+1)
	out = append(out, m.Payload...)
	out = append(out, m.CallbackID)
	return out
}

// BumpForRetransmit increments the attempt counter and assigns a fresh
// callback id, so a retransmission is distinguishable from the original
// attempt on the wire.
func (m *Message) BumpForRetransmit(alloc *Allocator) {
	m.Attempts++
	if !m.NoCallback {
		m.CallbackID = alloc.Next()
	}
}

// ExceededAttempts reports whether the message has used up its retry
// budget.
func (m *Message) ExceededAttempts() bool {
	return m.Attempts >= m.MaxAttempts
}

// AddAttempt grants one additional send attempt, used when a CAN is
// received: the same message is requeued with its attempt budget raised
// by one rather than being charged against the normal retry count.
func (m *Message) AddAttempt() {
	m.MaxAttempts++
}

// Complete() signals Done, if present, exactly once.
func (m *Message) Complete(err error) {
	if m.Done == nil {
		return
	}
	select {
	case m.Done <- err:
	default:
	}
	close(m.Done)
	m.Done = nil
}
