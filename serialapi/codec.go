package serialapi

import ("fmt"
	"sync/atomic"
	"time"

	"zwavehost/transport")

// Timeouts governing the receive state machine and the
// write/ACK handshake.
const (ByteTimeout = 50 * time.Millisecond
	FrameTimeout = 500 * time.Millisecond
	DefaultAckTimeout = 1500 * time.Millisecond)

// EventKind tags what ReadEvent produced.
type EventKind int

const (EventNone EventKind = iota
	EventControl
	EventFrame)

// Event is the result of one receive-state-machine pass.
type Event struct {
	Kind EventKind
	Control byte
	Frame Frame
}

// Stats exposes the framing error counters.
type Stats struct {
	ReadAborts uint64
	BadChecksum uint64
	OutOfFrame uint64
}

// Codec drives the Serial API receive state machine and the frame-level
// write path over a transport.Port. It holds no transaction semantics
// (retries, callback correlation) — that belongs to the transaction engine.
type Codec struct {
	port transport.Port

	readAborts atomic.Uint64
	badChecksum atomic.Uint64
	outOfFrame atomic.Uint64
}

// NewCodec wraps a transport.Port with Serial API framing.
func NewCodec(port transport.Port) *Codec {
	return &Codec{port: port}
}

// Stats snapshots the framing error counters.
func (c *Codec) Stats() Stats {
	return Stats{
		ReadAborts: c.readAborts.Load(),
		BadChecksum: c.badChecksum.Load(),
		OutOfFrame: c.outOfFrame.Load(),
	}
}

// readExact blocks (up to timeout) until n bytes are buffered, then
// returns exactly n bytes, retrying partial reads within the deadline.
func (c *Codec) readExact(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	c.port.SetReadThreshold(n)
	defer c.port.SetReadThreshold(0)

	out := make([]byte, 0, n)
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("serialapi: timed out waiting for %d bytes", n)
		}
		ready, err := c.port.WaitReadable(remaining)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, fmt.Errorf("serialapi: timed out waiting for %d bytes", n)
		}
		buf := make([]byte, n-len(out))
		got, _ := c.port.Read(buf)
		out = append(out, buf[:got]...)
		if got == 0 {
			// Spurious wake; re-arm the threshold for what's left.
			c.port.SetReadThreshold(n - len(out))
		}
	}
	return out, nil
}

// ReadEvent performs one pass of the receive state machine:
// read one byte; a control byte is delivered immediately, a SOF begins
// frame reassembly bounded by ByteTimeout (the LEN byte) and FrameTimeout
// (the remainder), and anything else is treated as out-of-frame noise.
func (c *Codec) ReadEvent(idleTimeout time.Duration) (Event, error) {
	first, err := c.readExact(1, idleTimeout)
	if err != nil {
		return Event{}, err
	}

	switch first[0] {
	case ACK, NAK, CAN:
		return Event{Kind: EventControl, Control: first[0]}, nil
	case SOF:
		return c.readFrameBody()
	default:
		c.outOfFrame.Add(1)
		c.writeControl(NAK)
		c.port.Purge()
		return Event{Kind: EventNone}, nil
	}
}

func (c *Codec) readFrameBody() (Event, error) {
	lenByte, err := c.readExact(1, ByteTimeout)
	if err != nil {
		c.readAborts.Add(1)
		return Event{Kind: EventNone}, nil
	}

	length := int(lenByte[0])
	rest, err := c.readExact(length, FrameTimeout)
	if err != nil {
		c.readAborts.Add(1)
		return Event{Kind: EventNone}, nil
	}

	full := append(lenByte, rest...)
	if !VerifyChecksum(full) {
		c.badChecksum.Add(1)
		c.writeControl(NAK)
		c.port.Purge()
		return Event{Kind: EventNone}, nil
	}

	frame, err := Decode(full)
	if err != nil {
		c.badChecksum.Add(1)
		c.writeControl(NAK)
		c.port.Purge()
		return Event{Kind: EventNone}, nil
	}

	c.writeControl(ACK)
	return Event{Kind: EventFrame, Frame: frame}, nil
}

func (c *Codec) writeControl(b byte) {
	_, _ = c.port.Write([]byte{b})
}

// WriteFrame encodes and transmits a frame. It does not wait for the ACK;
// the transaction engine owns the ACK-wait/retry handshake.
func (c *Codec) WriteFrame(f Frame) error {
	data := Encode(f)
	n, err := c.port.Write(data)
	if err != nil {
		return fmt.Errorf("serialapi: write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("serialapi: short write: %d/%d bytes", n, len(data))
	}
	return nil
}

// WriteAck() sends a bare ACK (used by the driver to ack the cancel of an
// unexpected inbound frame, etc. — exported for transaction-engine reuse).
func (c *Codec) WriteAck() error { return c.writeControlErr(ACK) }

// WriteNak() sends a bare NAK.
func (c *Codec) WriteNak() error { return c.writeControlErr(NAK) }

// WriteCan() sends a bare CAN.
func (c *Codec) WriteCan() error { return c.writeControlErr(CAN) }

func (c *Codec) writeControlErr(b byte) error {
	_, err := c.port.Write([]byte{b})
	return err
}

// Purge() discards any buffered input, used after protocol errors.
func (c *Codec) Purge() { c.port.Purge() }
