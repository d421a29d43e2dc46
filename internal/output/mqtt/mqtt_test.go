package mqtt

import (
	"testing"
	"time"

	"github.com/shaunagostinho/luminox-dash/internal/luminox"
)

func TestStatePayload(t *testing.T) {
	r, _ := luminox.Parse("O 210.1 T 25.0 P 1013.2 % 20.9 e 0000")
	r.Time = time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)

	p := statePayload(r)
	if p["ppo2_mbar"] != 210.1 || p["o2_percent"] != 20.9 || p["pressure_mbar"] != 1013.2 {
		t.Fatalf("payload values: %v", p)
	}
	if p["valid"] != true || p["status"] != "0000" || p["time"] != "2025-09-19T14:41:54Z" {
		t.Fatalf("payload metadata: %v", p)
	}
	if _, ok := p["error"]; ok {
		t.Fatalf("unexpected error key: %v", p)
	}
}

func TestStatePayloadOmitsAbsentFields(t *testing.T) {
	r, _ := luminox.Parse("O 190.0 T 26.1 -----")
	p := statePayload(r)
	if _, ok := p["o2_percent"]; ok {
		t.Fatalf("o2_percent should be omitted: %v", p)
	}
	if _, ok := p["pressure_mbar"]; ok {
		t.Fatalf("pressure_mbar should be omitted: %v", p)
	}
	if _, ok := p["time"]; ok {
		t.Fatalf("zero time should be omitted: %v", p)
	}

	e, _ := luminox.Parse("E 03")
	if statePayload(e)["error"] != "E 03" {
		t.Fatalf("error not forwarded")
	}
}

func TestDiscoveryPayload(t *testing.T) {
	cfg := withDefaults(Config{ClientID: "tank1"})
	p := discoveryPayload(cfg)
	if p[keyStateTopic] != DefaultStateTopic || p[keyUniqueID] != "tank1_o2" || p[keyName] != "LuminOx tank1" {
		t.Fatalf("discovery payload: %v", p)
	}
	if _, ok := p["device_class"]; ok {
		t.Fatalf("device_class must not be set: %v", p)
	}
	if p[keyUnitOfMeasurement] != unitPercent || p[keyValueTemplate] != valueTemplateO2 {
		t.Fatalf("discovery payload: %v", p)
	}
	if cfg.Server != DefaultServer {
		t.Fatalf("default server not applied: %q", cfg.Server)
	}
}
