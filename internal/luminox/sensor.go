package luminox

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Sensor commands.
const (
	cmdPollMode     = "M 1"
	cmdManufactured = "# 0"
	cmdSerial       = "# 1"
	cmdFirmware     = "# 2"
	cmdReadAll      = "A"
)

const (
	// DefaultTimeoutMs bounds a single reply.
	DefaultTimeoutMs = 2200
	// DefaultRetries is how many times a failed read is re-issued.
	DefaultRetries = 3
	// DefaultWarmup is the stabilization time the sensor needs after power-up.
	DefaultWarmup = 7500 * time.Millisecond
	// DefaultSettle is the quiet time between writing a command and reading.
	DefaultSettle = 35 * time.Millisecond

	// minReplyLen is the shortest reply to 'A' worth parsing.
	minReplyLen = 20

	errNoValidResponse = "No valid response"
)

// Config holds construction-time settings for a Sensor. Zero fields other
// than Retries take the defaults; a negative Warmup skips the warm-up wait.
type Config struct {
	TimeoutMs int
	// Retries is the number of extra 'A' attempts after a timeout, a short
	// reply or an unparseable line. Negative means none.
	Retries int
	Warmup  time.Duration
	Settle  time.Duration
	Clock   Clock
	// Out receives the information banner printed by Initialize.
	Out io.Writer
	// Trace receives the debug trace.
	Trace io.Writer
}

func (c Config) withDefaults() Config {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	switch {
	case c.Warmup == 0:
		c.Warmup = DefaultWarmup
	case c.Warmup < 0:
		c.Warmup = 0
	}
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.Clock == nil {
		c.Clock = SystemClock
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	if c.Trace == nil {
		c.Trace = os.Stderr
	}
	return c
}

// DefaultConfig returns the factory timings of a LuminOx sensor.
func DefaultConfig() Config {
	return Config{
		TimeoutMs: DefaultTimeoutMs,
		Retries:   DefaultRetries,
		Warmup:    DefaultWarmup,
		Settle:    DefaultSettle,
	}
}

// Sensor drives a LuminOx oxygen sensor over a Stream and keeps the last
// reading. Apart from SetDebug it must be used from a single goroutine.
type Sensor struct {
	tr      *Transport
	clock   Clock
	out     io.Writer
	warmup  time.Duration
	retries int
	last    Reading
	info    string // result of the latest SensorInfo
}

// New returns a Sensor talking over stream.
func New(stream Stream, cfg Config) *Sensor {
	cfg = cfg.withDefaults()
	trace := log.New(cfg.Trace, "", log.Ltime|log.Lmicroseconds)
	return &Sensor{
		tr:      NewTransport(stream, cfg.Clock, time.Duration(cfg.TimeoutMs)*time.Millisecond, cfg.Settle, trace),
		clock:   cfg.Clock,
		out:     cfg.Out,
		warmup:  cfg.Warmup,
		retries: cfg.Retries,
		last:    NewReading(),
	}
}

// Initialize waits for the sensor to stabilize, switches it to poll mode and
// optionally prints its information. The result only says whether the
// poll-mode reply looked right; the sensor may be usable either way.
func (s *Sensor) Initialize(printInfo bool) bool {
	s.clock.Sleep(s.warmup)

	reply := s.tr.SendCommand(cmdPollMode)
	pollOK := reply != TimeoutReply &&
		(strings.HasPrefix(reply, cmdPollMode) || strings.Contains(reply, "M"))

	if pollOK {
		s.tr.tracef("%s poll mode set", traceTag)
	} else {
		s.tr.tracef("%s poll mode uncertain (reply %q)", traceTag, reply)
	}

	if printInfo {
		fmt.Fprintln(s.out, "\nLuminOx Sensor Information:")
		fmt.Fprint(s.out, s.SensorInfo())
		fmt.Fprintln(s.out, "───────────────────────────────")
		fmt.Fprintln(s.out)
	}

	return pollOK
}

// SensorInfo queries manufacture date, serial number and firmware version.
func (s *Sensor) SensorInfo() string {
	var b strings.Builder
	b.WriteString("Manufacture date : " + s.tr.SendCommand(cmdManufactured) + "\n")
	b.WriteString("Serial number    : " + s.tr.SendCommand(cmdSerial) + "\n")
	b.WriteString("Firmware version : " + s.tr.SendCommand(cmdFirmware) + "\n")
	s.info = b.String()
	return s.info
}

// ReadAll requests one measurement. The outcome, failed or not, replaces
// the last reading. Timeouts, short replies and unparseable lines are
// re-issued up to the configured number of retries.
func (s *Sensor) ReadAll() (Reading, bool) {
	var (
		r  Reading
		ok bool
	)
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			s.tr.tracef("%s retry %d/%d after %q", traceTag, attempt, s.retries, r.Error)
		}
		r, ok = s.readOnce()
		if ok || !retryable(r) {
			break
		}
	}
	s.last = r
	return r, ok
}

func (s *Sensor) readOnce() (Reading, bool) {
	raw := s.tr.SendCommand(cmdReadAll)

	var (
		r  Reading
		ok bool
	)
	// Sensor error codes are shorter than any measurement.
	if !strings.HasPrefix(raw, errorPrefix) && (raw == TimeoutReply || len(raw) < minReplyLen) {
		r = NewReading()
		r.Raw = raw
		r.Error = errNoValidResponse
	} else {
		r, ok = Parse(raw)
	}
	r.Time = s.clock.Now()
	return r, ok
}

// retryable reports whether a failed read says nothing about the sensor
// state. Sensor errors and parsed-but-invalid data are final.
func retryable(r Reading) bool {
	return r.Error == errNoValidResponse || r.Error == errParseFailed
}

// SetDebug toggles the command/reply trace. Safe to call at any time.
func (s *Sensor) SetDebug(on bool) { s.tr.SetDebug(on) }

// Debug reports whether the trace is on.
func (s *Sensor) Debug() bool { return s.tr.Debug() }

// LastReading returns the outcome of the most recent ReadAll.
func (s *Sensor) LastReading() Reading { return s.last }

func (s *Sensor) O2Percent() float64   { return s.last.O2Percent }
func (s *Sensor) PPO2() float64        { return s.last.PPO2 }
func (s *Sensor) Temperature() float64 { return s.last.Temperature }
func (s *Sensor) Pressure() float64    { return s.last.Pressure }
func (s *Sensor) Status() string       { return s.last.Status }
func (s *Sensor) Valid() bool          { return s.last.Valid }
func (s *Sensor) LastError() string    { return s.last.Error }
