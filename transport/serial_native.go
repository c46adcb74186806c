//go:build !hid

package transport

import ("fmt"
	"sync"
	"time"

	serialport "github.com/tarm/serial")

// nativePort backs Port with a real UART via github.com/tarm/serial. A
// background pump() goroutine issues short blocking reads and feeds a ring
// buffer, so WaitReadable can be satisfied without holding the link open
// for an unbounded read call.
type nativePort struct {
	link *serialport.Port
	cfg *Config

	mu sync.Mutex
	buf *ringBuffer
	threshold int
	readyCh chan struct{}

	closeOnce sync.Once
	closed chan struct{}
}

// Open opens a native serial port using the given configuration.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("transport: config cannot be nil")
	}

	link, err := serialport.OpenPort(&serialport.Config{
		Name: cfg.Device,
		Baud: cfg.Baud,
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Device, err)
	}

	size := cfg.ReadBufferSize
	if size <= 0 {
		size = 4096
	}

	p := &nativePort{
		link: link,
		cfg: cfg,
		buf: newRingBuffer(size),
		readyCh: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go p.pump()
	return p, nil
}

func (p *nativePort) pump() {
	scratch := make([]byte, 256)
	for {
		select {
		case <-p.closed:
			return
		default:
		}

		n, err := p.link.Read(scratch)
		if n > 0 {
			p.mu.Lock()
			p.buf.Write(scratch[:n])
			ready := p.buf.Available() >= p.threshold
			p.mu.Unlock()
			if ready {
				p.signal()
			}
		}
		if err != nil {
			// tarm/serial returns a timeout error when no bytes arrived
			// within ReadTimeout; treat that as "nothing yet" and retry.
			continue
		}
	}
}

func (p *nativePort) signal() {
	select {
	case p.readyCh <- struct{}{}:
	default:
	}
}

func (p *nativePort) Write(data []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrClosed
	default:
	}
	return p.link.Write(data)
}

func (p *nativePort) Read(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Read(data), nil
}

func (p *nativePort) Purge() {
	p.mu.Lock()
	p.buf.Reset()
	p.mu.Unlock()
	select {
	case <-p.readyCh:
	default:
	}
}

func (p *nativePort) SetReadThreshold(n int) {
	p.mu.Lock()
	p.threshold = n
	ready := p.buf.Available() >= n
	p.mu.Unlock()
	if ready {
		p.signal()
	}
}

func (p *nativePort) WaitReadable(timeout time.Duration) (bool, error) {
	select {
	case <-p.closed:
		return false, ErrClosed
	default:
	}

	p.mu.Lock()
	already := p.buf.Available() >= p.threshold
	p.mu.Unlock()
	if already {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.readyCh:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-p.closed:
		return false, ErrClosed
	}
}

func (p *nativePort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.link.Close()
	})
	return err
}
