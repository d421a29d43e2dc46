package luminox

import (
	"log"
	"strings"
	"sync/atomic"
	"time"
)

// Stream is the byte stream the sensor is attached to.
type Stream interface {
	// Available returns the number of bytes that can be read without blocking.
	Available() int
	// ReadByte returns the next byte. Only valid when Available() > 0.
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// Clock supplies monotonic time and the delays of the protocol.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock used outside of tests.
var SystemClock Clock = systemClock{}

const (
	// TimeoutReply is returned in place of a line when none completes in time.
	TimeoutReply = "TIMEOUT"

	lineTerminator = "\r\n"
	pollInterval   = 1 * time.Millisecond
	traceTag       = "[luminox]"
)

// Transport frames command/reply exchanges over a Stream.
// It is not safe for concurrent use, apart from the debug toggle.
type Transport struct {
	stream  Stream
	clock   Clock
	timeout time.Duration
	settle  time.Duration
	trace   *log.Logger
	debug   atomic.Bool
}

// NewTransport returns a Transport. A nil trace logger disables tracing.
func NewTransport(stream Stream, clock Clock, timeout, settle time.Duration, trace *log.Logger) *Transport {
	if clock == nil {
		clock = SystemClock
	}
	return &Transport{
		stream:  stream,
		clock:   clock,
		timeout: timeout,
		settle:  settle,
		trace:   trace,
	}
}

// SetDebug toggles tracing of every reply and timeout.
func (t *Transport) SetDebug(on bool) { t.debug.Store(on) }

// Debug reports whether tracing is on.
func (t *Transport) Debug() bool { return t.debug.Load() }

// Flush discards every byte already buffered, leftovers from a previous exchange.
func (t *Transport) Flush() {
	for t.stream.Available() > 0 {
		if _, err := t.stream.ReadByte(); err != nil {
			return
		}
	}
}

// SendCommand flushes stale input, writes cmd with a line terminator, waits
// the settle delay and returns the reply line or TimeoutReply.
func (t *Transport) SendCommand(cmd string) string {
	t.Flush()
	t.tracef("%s ← %s", traceTag, cmd)
	if _, err := t.stream.Write([]byte(cmd + lineTerminator)); err != nil {
		t.tracef("%s write %q failed: %v", traceTag, cmd, err)
	}
	t.clock.Sleep(t.settle)
	return t.ReadResponse()
}

// ReadResponse collects bytes until a line feed or the timeout. Carriage
// returns are dropped and the line is trimmed.
func (t *Transport) ReadResponse() string {
	var line strings.Builder
	start := t.clock.Now()

	for t.clock.Now().Sub(start) < t.timeout {
		if t.stream.Available() > 0 {
			c, err := t.stream.ReadByte()
			if err != nil {
				t.tracef("%s read failed: %v", traceTag, err)
				t.clock.Sleep(pollInterval)
				continue
			}
			switch c {
			case '\n':
				out := strings.TrimSpace(line.String())
				t.tracef("%s → %s", traceTag, out)
				return out
			case '\r':
			default:
				line.WriteByte(c)
			}
			continue
		}
		t.clock.Sleep(pollInterval)
	}

	t.tracef("%s %s", traceTag, TimeoutReply)
	return TimeoutReply
}

func (t *Transport) tracef(format string, args ...interface{}) {
	if t.trace != nil && t.debug.Load() {
		t.trace.Printf(format, args...)
	}
}
