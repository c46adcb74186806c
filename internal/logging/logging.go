// Package logging provides the small leveled wrapper every driver
// goroutine writes through. A settable sink function gates four
// severities instead of one boolean debug flag, since the driver needs
// to distinguish routine transaction noise from the handful of events
// an operator actually wants to see by default.
package logging

import ("fmt"
	"log"
	"os"
	"sync/atomic")

// Level orders the four severities this package writes.
type Level int32

const (Debug Level = iota
	Info
	Warn
	Error)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes leveled, prefixed lines to an underlying *log.Logger. The
// minimum level is adjustable at runtime (atomic) without restarting the
// owning goroutine.
type Logger struct {
	out *log.Logger
	level atomic.Int32
	tag string
}

// New() creates a Logger writing to out (os.Stderr if nil), prefixed with
// tag (conventionally a driver's HomeId), at the given minimum level.
func New(out *os.File, tag string, min Level) *Logger {
	if out == nil {
		out = os.Stderr
	}
	l := &Logger{out: log.New(out, "", log.LstdFlags|log.Lmicroseconds), tag: tag}
	l.level.Store(int32(min))
	return l
}

// Discard returns a Logger that never writes, used where the embedding
// application hasn't enabled logging.
func Discard() *Logger {
	l := New(nil, "", Error+1)
	return l
}

// SetLevel adjusts the minimum level that will be written.
func (l *Logger) SetLevel(lv Level) { l.level.Store(int32(lv)) }

func (l *Logger) enabled(lv Level) bool { return lv >= Level(l.level.Load()) }

func (l *Logger) write(lv Level, format string, args ...any) {
	if !l.enabled(lv) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.tag != "" {
		l.out.Printf("[%s] %s: %s", lv, l.tag, msg)
		return
	}
	l.out.Printf("[%s] %s", lv, msg)
}

// Debugf logs a transaction/frame-level detail (only visible with
// verbose logging enabled).
func (l *Logger) Debugf(format string, args ...any) { l.write(Debug, format, args...) }

// Infof logs a routine lifecycle event (node added, stage complete, ...).
func (l *Logger) Infof(format string, args ...any) { l.write(Info, format, args...) }

// Warnf logs a recoverable condition (retry, dropped message, starvation).
func (l *Logger) Warnf(format string, args ...any) { l.write(Warn, format, args...) }

// Errorf logs a fatal or near-fatal condition (driver failure, decrypt
// failure).
func (l *Logger) Errorf(format string, args ...any) { l.write(Error, format, args...) }
