package luminox

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

const fullLine = "O 210.1 T 25.0 P 1013.2 % 20.9 e 0000"

func newTestTransport(s Stream, clk Clock, timeout time.Duration) *Transport {
	return NewTransport(s, clk, timeout, DefaultSettle, nil)
}

func TestReadResponseChunked(t *testing.T) {
	wire := fullLine + "\r\n"
	for size := 1; size <= len(wire); size++ {
		s := newScriptStream(map[string][]string{"A": {wire}})
		s.chunkSize = size
		tr := newTestTransport(s, newManualClock(), 2200*time.Millisecond)

		if got := tr.SendCommand("A"); got != fullLine {
			t.Fatalf("chunk size %d: got %q want %q", size, got, fullLine)
		}
	}
}

func TestReadResponseCleansLine(t *testing.T) {
	tests := []struct {
		wire string
		want string
	}{
		{"  M 01  \r\n", "M 01"},
		{"O 1\r2 T\r 3\n", "O 12 T 3"},
		{"\r\n", ""},
		{"# 02.11\n", "# 02.11"},
		{"first\nsecond\n", "first"},
	}
	for _, tt := range tests {
		s := newScriptStream(map[string][]string{"# 2": {tt.wire}})
		tr := newTestTransport(s, newManualClock(), time.Second)
		if got := tr.SendCommand("# 2"); got != tt.want {
			t.Errorf("wire %q: got %q want %q", tt.wire, got, tt.want)
		}
	}
}

func TestSendCommandFlushesAndTerminates(t *testing.T) {
	s := newScriptStream(map[string][]string{"A": {fullLine + "\r\n"}})
	s.stale = []byte("O 1.0 T 2.0 e 9999\r\n")
	clk := newManualClock()
	tr := newTestTransport(s, clk, time.Second)

	if got := tr.SendCommand("A"); got != fullLine {
		t.Fatalf("stale bytes leaked into reply: %q", got)
	}
	if got := s.written.String(); got != "A\r\n" {
		t.Fatalf("written %q, want %q", got, "A\r\n")
	}
	if clk.slept < DefaultSettle {
		t.Fatalf("settle delay not applied, slept %v", clk.slept)
	}
}

func TestReadResponseTimeout(t *testing.T) {
	s := newScriptStream(nil)
	clk := newManualClock()
	timeout := 2200 * time.Millisecond
	tr := newTestTransport(s, clk, timeout)

	start := clk.Now()
	if got := tr.ReadResponse(); got != TimeoutReply {
		t.Fatalf("got %q want %q", got, TimeoutReply)
	}
	elapsed := clk.Now().Sub(start)
	if elapsed < timeout || elapsed > timeout+2*pollInterval {
		t.Fatalf("timed out after %v, want %v", elapsed, timeout)
	}
}

func TestReadResponseTimeoutPartialLine(t *testing.T) {
	s := newScriptStream(map[string][]string{"A": {"O 210.1 T 25.0"}})
	tr := newTestTransport(s, newManualClock(), 100*time.Millisecond)
	if got := tr.SendCommand("A"); got != TimeoutReply {
		t.Fatalf("unterminated line: got %q want %q", got, TimeoutReply)
	}
}

func TestReadResponseTimeoutWallClock(t *testing.T) {
	timeout := 60 * time.Millisecond
	tr := newTestTransport(newScriptStream(nil), SystemClock, timeout)

	start := time.Now()
	got := tr.ReadResponse()
	elapsed := time.Since(start)

	if got != TimeoutReply {
		t.Fatalf("got %q want %q", got, TimeoutReply)
	}
	if elapsed < timeout {
		t.Fatalf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+250*time.Millisecond {
		t.Fatalf("returned after %v, too long past the %v timeout", elapsed, timeout)
	}
}

func TestTransportTrace(t *testing.T) {
	var out bytes.Buffer
	s := newScriptStream(map[string][]string{"A": {fullLine + "\r\n"}})
	tr := NewTransport(s, newManualClock(), 50*time.Millisecond, DefaultSettle, log.New(&out, "", 0))

	tr.SendCommand("A")
	if out.Len() != 0 {
		t.Fatalf("trace written while debug off: %q", out.String())
	}

	tr.SetDebug(true)
	s.replies["A"] = []string{fullLine + "\n"}
	tr.SendCommand("A")
	tr.SendCommand("A") // no reply scripted: times out

	got := out.String()
	for _, want := range []string{"[luminox] ← A", "[luminox] → " + fullLine, "[luminox] TIMEOUT"} {
		if !strings.Contains(got, want) {
			t.Errorf("trace missing %q:\n%s", want, got)
		}
	}
}
