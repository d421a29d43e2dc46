package luminox

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func newTestSensor(s *scriptStream, retries int) (*Sensor, *manualClock, *bytes.Buffer) {
	clk := newManualClock()
	out := &bytes.Buffer{}
	sensor := New(s, Config{
		Retries: retries,
		Clock:   clk,
		Out:     out,
		Trace:   io.Discard,
	})
	return sensor, clk, out
}

func TestSensorDefaultsBeforeRead(t *testing.T) {
	sensor, _, _ := newTestSensor(newScriptStream(nil), 0)

	if sensor.PPO2() != 0 || sensor.Temperature() != 0 {
		t.Fatalf("ppO2/temperature should default to 0")
	}
	if sensor.O2Percent() != -1 || sensor.Pressure() != -1 {
		t.Fatalf("percent/pressure should default to -1")
	}
	if sensor.Status() != "" || sensor.LastError() != "" || sensor.Valid() {
		t.Fatalf("status/error/valid should be empty, got %+v", sensor.LastReading())
	}
}

func TestReadAllFullFormat(t *testing.T) {
	s := newScriptStream(map[string][]string{"A": {fullLine + "\r\n"}})
	sensor, clk, _ := newTestSensor(s, 0)

	r, ok := sensor.ReadAll()
	if !ok || !r.Valid {
		t.Fatalf("ReadAll failed: %+v", r)
	}
	if r.PPO2 != 210.1 || r.Temperature != 25.0 || r.Pressure != 1013.2 || r.O2Percent != 20.9 || r.Status != "0000" {
		t.Fatalf("fields not decoded: %+v", r)
	}
	if !r.Time.Equal(clk.Now()) {
		t.Fatalf("reading time %v, want %v", r.Time, clk.Now())
	}
	if sensor.PPO2() != 210.1 || sensor.O2Percent() != 20.9 || !sensor.Valid() {
		t.Fatalf("accessors do not reflect last reading")
	}
}

func TestReadAllScenarios(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		ok       bool
		status   string
		errMsg   string
		ppO2     float64
		temp     float64
		pressure float64
		percent  float64
	}{
		{"minimal below threshold", "O 0.02 T 24.5 e 0000\r\n", false, "0000", "", 0.02, 24.5, -1, -1},
		{"sensor error", "E low battery\n", false, "ERROR", "E low battery", 0, 0, -1, -1},
		{"degraded", "O 190.0 T 26.1 -----\n", true, "LOX-01", "", 190.0, 26.1, -1, -1},
		{"stale status", "O 210.1 T 25.0 P 1013.2 % 20.9 e 0104\r\n", false, "0104", "", 210.1, 25.0, 1013.2, 20.9},
		{"too short", "O 1 T 2 e 0\r\n", false, "", "No valid response", 0, 0, -1, -1},
		{"unparseable", "this is not a measurement\r\n", false, "", "Parse failed", 0, 0, -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScriptStream(map[string][]string{"A": {tt.reply}})
			sensor, _, _ := newTestSensor(s, 0)

			r, ok := sensor.ReadAll()
			if ok != tt.ok || r.Valid != tt.ok {
				t.Fatalf("ok=%v valid=%v want %v (%+v)", ok, r.Valid, tt.ok, r)
			}
			if r.Status != tt.status || r.Error != tt.errMsg {
				t.Fatalf("status=%q error=%q want %q %q", r.Status, r.Error, tt.status, tt.errMsg)
			}
			if r.PPO2 != tt.ppO2 || r.Temperature != tt.temp || r.Pressure != tt.pressure || r.O2Percent != tt.percent {
				t.Fatalf("fields %+v", r)
			}
			if sensor.LastReading() != r {
				t.Fatalf("last reading not replaced")
			}
		})
	}
}

func TestReadAllTimeout(t *testing.T) {
	s := newScriptStream(nil)
	sensor, _, _ := newTestSensor(s, 0)

	r, ok := sensor.ReadAll()
	if ok || r.Error != "No valid response" || r.Raw != TimeoutReply {
		t.Fatalf("timeout not reported: %+v", r)
	}
	if s.count("A") != 1 {
		t.Fatalf("sent 'A' %d times without retries", s.count("A"))
	}
}

func TestReadAllRetries(t *testing.T) {
	t.Run("recovers after timeout", func(t *testing.T) {
		s := newScriptStream(map[string][]string{"A": {"", fullLine + "\r\n"}})
		sensor, _, _ := newTestSensor(s, 3)

		r, ok := sensor.ReadAll()
		if !ok {
			t.Fatalf("retry did not recover: %+v", r)
		}
		if s.count("A") != 2 {
			t.Fatalf("sent 'A' %d times, want 2", s.count("A"))
		}
	})

	t.Run("gives up after retries", func(t *testing.T) {
		s := newScriptStream(map[string][]string{"A": {"garbage line that is long\n", "garbage line that is long\n", "garbage line that is long\n"}})
		sensor, _, _ := newTestSensor(s, 2)

		r, ok := sensor.ReadAll()
		if ok || r.Error != "Parse failed" {
			t.Fatalf("expected parse failure, got %+v", r)
		}
		if s.count("A") != 3 {
			t.Fatalf("sent 'A' %d times, want 3", s.count("A"))
		}
	})

	t.Run("sensor error is final", func(t *testing.T) {
		s := newScriptStream(map[string][]string{"A": {"E 01\n", fullLine + "\n"}})
		sensor, _, _ := newTestSensor(s, 3)

		if _, ok := sensor.ReadAll(); ok {
			t.Fatalf("sensor error reported as success")
		}
		if s.count("A") != 1 {
			t.Fatalf("sensor error was retried")
		}
	})

	t.Run("invalid data is final", func(t *testing.T) {
		s := newScriptStream(map[string][]string{"A": {"O 0.02 T 24.5 e 0000\n", fullLine + "\n"}})
		sensor, _, _ := newTestSensor(s, 3)

		if _, ok := sensor.ReadAll(); ok {
			t.Fatalf("invalid reading reported as success")
		}
		if s.count("A") != 1 {
			t.Fatalf("invalid reading was retried")
		}
	})
}

func TestInitialize(t *testing.T) {
	replies := func() map[string][]string {
		return map[string][]string{
			"M 1": {"M 01\r\n"},
			"# 0": {"# 02024 00117\r\n"},
			"# 1": {"# 10452 00031\r\n"},
			"# 2": {"# 02.11\r\n"},
		}
	}

	t.Run("poll mode with info", func(t *testing.T) {
		s := newScriptStream(replies())
		sensor, clk, out := newTestSensor(s, 0)

		if !sensor.Initialize(true) {
			t.Fatalf("poll mode reply not accepted")
		}
		if clk.slept < DefaultWarmup {
			t.Fatalf("warm-up skipped, slept %v", clk.slept)
		}
		want := []string{"M 1", "# 0", "# 1", "# 2"}
		if strings.Join(s.sent, ",") != strings.Join(want, ",") {
			t.Fatalf("commands %v, want %v", s.sent, want)
		}
		banner := out.String()
		for _, line := range []string{
			"LuminOx Sensor Information:",
			"Manufacture date : # 02024 00117\n",
			"Serial number    : # 10452 00031\n",
			"Firmware version : # 02.11\n",
		} {
			if !strings.Contains(banner, line) {
				t.Errorf("banner missing %q:\n%s", line, banner)
			}
		}
	})

	t.Run("without info", func(t *testing.T) {
		s := newScriptStream(replies())
		sensor, _, out := newTestSensor(s, 0)

		if !sensor.Initialize(false) {
			t.Fatalf("poll mode reply not accepted")
		}
		if len(s.sent) != 1 || out.Len() != 0 {
			t.Fatalf("info fetched without being asked: %v %q", s.sent, out.String())
		}
	})

	t.Run("uncertain reply", func(t *testing.T) {
		tests := map[string]bool{
			"M 1":        true,
			"echo: M":    true,
			"# 01":       false,
			TimeoutReply: false,
		}
		for reply, want := range tests {
			r := map[string][]string{}
			if reply != TimeoutReply {
				r["M 1"] = []string{reply + "\n"}
			}
			sensor, _, _ := newTestSensor(newScriptStream(r), 0)
			if got := sensor.Initialize(false); got != want {
				t.Errorf("reply %q: got %v want %v", reply, got, want)
			}
		}
	})
}

func TestSensorInfoTimeouts(t *testing.T) {
	sensor, _, _ := newTestSensor(newScriptStream(nil), 0)
	info := sensor.SensorInfo()
	want := "Manufacture date : TIMEOUT\nSerial number    : TIMEOUT\nFirmware version : TIMEOUT\n"
	if info != want {
		t.Fatalf("got %q want %q", info, want)
	}
}

func TestSensorDebugToggle(t *testing.T) {
	var trace bytes.Buffer
	s := newScriptStream(map[string][]string{"A": {fullLine + "\n", fullLine + "\n"}})
	sensor := New(s, Config{Clock: newManualClock(), Trace: &trace, Out: io.Discard})

	sensor.ReadAll()
	if trace.Len() != 0 {
		t.Fatalf("trace written with debug off")
	}
	sensor.SetDebug(true)
	if !sensor.Debug() {
		t.Fatalf("debug flag not set")
	}
	r, ok := sensor.ReadAll()
	if !ok || !strings.Contains(trace.String(), "[luminox] → "+fullLine) {
		t.Fatalf("debug changed the outcome or did not trace: %v %+v %q", ok, r, trace.String())
	}
}

func TestReadAllShortErrorCodes(t *testing.T) {
	for _, code := range []string{"E 01", "E 02", "E 03", "E 04"} {
		t.Run(code, func(t *testing.T) {
			s := newScriptStream(map[string][]string{"A": {code + "\r\n", fullLine + "\r\n"}})
			sensor, _, _ := newTestSensor(s, 3)

			r, ok := sensor.ReadAll()
			if ok || r.Valid {
				t.Fatalf("sensor error reported as success: %+v", r)
			}
			if r.Status != StatusError || r.Error != code || r.Raw != code {
				t.Fatalf("status=%q error=%q raw=%q", r.Status, r.Error, r.Raw)
			}
			if s.count("A") != 1 {
				t.Fatalf("sent 'A' %d times, sensor error must not be retried", s.count("A"))
			}
			if sensor.LastError() != code {
				t.Fatalf("last error %q", sensor.LastError())
			}
		})
	}
}
