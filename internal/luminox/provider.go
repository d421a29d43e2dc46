package luminox

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Provider is the interface the dashboard polls for oxygen readings.
type Provider interface {
	// Name returns the human-readable name of this provider.
	Name() string
	// Connect opens the stream and runs the sensor start-up sequence.
	Connect() error
	// Close releases the stream.
	Close() error
	// IsConnected returns whether Connect has completed.
	IsConnected() bool
	// RequestData issues one measurement. The Reading carries its own
	// verdict; the error is only set when no exchange could be attempted.
	RequestData() (*Reading, error)
	// Info returns the sensor information captured at connect time.
	Info() string
	// SetDebug toggles the protocol trace.
	SetDebug(on bool)
}

// DeviceConfig holds connection configuration for a Device.
type DeviceConfig struct {
	Type      string `yaml:"type" json:"type"`          // "luminox" or "demo"
	PortPath  string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyLuminOx
	BaudRate  int    `yaml:"baud_rate" json:"baudRate"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeoutMs"`
	Retries   int    `yaml:"retries" json:"retries"`
	Debug     bool   `yaml:"debug" json:"debug"`
	PrintInfo bool   `yaml:"print_info" json:"printInfo"`
}

// streamCloser is a Stream that owns an OS resource.
type streamCloser interface {
	Stream
	io.Closer
}

// Device implements Provider on top of a Sensor. The Sensor itself is only
// touched by the goroutine calling Connect and RequestData.
type Device struct {
	cfg  DeviceConfig
	open func() (streamCloser, error)
	base Config

	mu        sync.Mutex
	stream    streamCloser
	sensor    *Sensor
	info      string
	debug     bool
	connected bool
}

// NewDevice returns a Device for a physical sensor, or a simulated one when
// cfg.Type is "demo".
func NewDevice(cfg DeviceConfig) *Device {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = DefaultTimeoutMs
	}
	base := DefaultConfig()
	d := &Device{cfg: cfg, base: base, debug: cfg.Debug}

	if cfg.Type == "demo" {
		d.open = func() (streamCloser, error) { return NewDemoStream(), nil }
		// A simulated sensor needs no stabilization.
		d.base.Warmup = -1
	} else {
		d.open = func() (streamCloser, error) { return OpenSerial(cfg.PortPath, cfg.BaudRate) }
	}
	return d
}

func (d *Device) Name() string {
	if d.cfg.Type == "demo" {
		return "LuminOx (Simulated)"
	}
	return "LuminOx"
}

// Connect opens the stream and initializes the sensor. A poll-mode reply
// that does not look right is only logged.
func (d *Device) Connect() error {
	stream, err := d.open()
	if err != nil {
		return err
	}

	cfg := d.base
	cfg.TimeoutMs = d.cfg.TimeoutMs
	cfg.Retries = d.cfg.Retries
	sensor := New(stream, cfg)

	d.mu.Lock()
	d.stream = stream
	d.sensor = sensor
	sensor.SetDebug(d.debug)
	d.mu.Unlock()

	start := time.Now()
	if sensor.Initialize(d.cfg.PrintInfo) {
		log.Printf("[luminox] poll mode set (%v)", time.Since(start).Round(time.Millisecond))
	} else {
		log.Printf("[luminox] poll mode uncertain, continuing")
	}
	if !d.cfg.PrintInfo {
		sensor.SensorInfo()
	}
	info := sensor.info

	d.mu.Lock()
	d.info = info
	d.connected = true
	d.mu.Unlock()

	log.Printf("[luminox] connected (%s)", d.Name())
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.sensor = nil
	if d.stream == nil {
		return nil
	}
	err := d.stream.Close()
	d.stream = nil
	return err
}

func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Device) RequestData() (*Reading, error) {
	d.mu.Lock()
	sensor := d.sensor
	connected := d.connected
	d.mu.Unlock()

	if !connected || sensor == nil {
		return nil, fmt.Errorf("luminox: not connected")
	}
	r, _ := sensor.ReadAll()
	return &r, nil
}

func (d *Device) Info() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

func (d *Device) SetDebug(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debug = on
	if d.sensor != nil {
		d.sensor.SetDebug(on)
	}
}

// Debug reports whether the protocol trace is on.
func (d *Device) Debug() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.debug
}
