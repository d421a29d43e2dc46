package luminox

import (
	"bytes"
	"errors"
	"strings"
	"time"
)

// manualClock advances only when Sleep is called.
type manualClock struct {
	now   time.Time
	slept time.Duration
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(d time.Duration) {
	if d <= 0 {
		// Still advance so a zero-delay poll loop terminates.
		d = time.Nanosecond
	}
	c.now = c.now.Add(d)
	c.slept += d
}

// scriptStream replies to written command lines with scripted bytes,
// delivered in chunks of chunkSize (whole reply when zero).
type scriptStream struct {
	replies   map[string][]string // per command, consumed in order
	chunkSize int
	stale     []byte // bytes already waiting before the first command

	pending [][]byte
	buf     []byte
	cmd     []byte
	written bytes.Buffer
	sent    []string
}

func newScriptStream(replies map[string][]string) *scriptStream {
	return &scriptStream{replies: replies}
}

func (s *scriptStream) Available() int {
	if len(s.stale) > 0 {
		s.buf = append(s.buf, s.stale...)
		s.stale = nil
	}
	if len(s.buf) == 0 && len(s.pending) > 0 {
		s.buf = s.pending[0]
		s.pending = s.pending[1:]
	}
	return len(s.buf)
}

func (s *scriptStream) ReadByte() (byte, error) {
	if len(s.buf) == 0 {
		return 0, errors.New("empty")
	}
	c := s.buf[0]
	s.buf = s.buf[1:]
	return c, nil
}

func (s *scriptStream) Write(p []byte) (int, error) {
	s.written.Write(p)
	for _, c := range p {
		if c != '\n' {
			s.cmd = append(s.cmd, c)
			continue
		}
		line := strings.TrimSpace(string(s.cmd))
		s.cmd = s.cmd[:0]
		s.sent = append(s.sent, line)
		queue := s.replies[line]
		if len(queue) == 0 {
			continue
		}
		s.replies[line] = queue[1:]
		s.enqueue([]byte(queue[0]))
	}
	return len(p), nil
}

func (s *scriptStream) Close() error { return nil }

func (s *scriptStream) enqueue(b []byte) {
	size := s.chunkSize
	if size <= 0 {
		size = len(b)
	}
	for len(b) > 0 {
		n := size
		if n > len(b) {
			n = len(b)
		}
		s.pending = append(s.pending, append([]byte(nil), b[:n]...))
		b = b[n:]
	}
}

func (s *scriptStream) count(cmd string) int {
	n := 0
	for _, c := range s.sent {
		if c == cmd {
			n++
		}
	}
	return n
}
