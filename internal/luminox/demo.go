package luminox

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
)

// DemoStream simulates a LOX-02 sensor in poll mode for development and
// testing. Commands written to it queue the reply the sensor would send.
type DemoStream struct {
	mu  sync.Mutex
	cmd []byte
	out []byte
	t   float64 // virtual time accumulator
}

func NewDemoStream() *DemoStream { return &DemoStream{} }

func (d *DemoStream) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.out)
}

func (d *DemoStream) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.out) == 0 {
		return 0, fmt.Errorf("demo: no data available")
	}
	c := d.out[0]
	d.out = d.out[1:]
	return c, nil
}

func (d *DemoStream) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range p {
		if c != '\n' {
			d.cmd = append(d.cmd, c)
			continue
		}
		line := strings.TrimSpace(string(d.cmd))
		d.cmd = d.cmd[:0]
		d.out = append(d.out, d.reply(line)...)
	}
	return len(p), nil
}

func (d *DemoStream) Close() error { return nil }

func (d *DemoStream) reply(cmd string) string {
	switch cmd {
	case "M 1":
		return "M 01\r\n"
	case "# 0":
		return "# 02024 00117\r\n"
	case "# 1":
		return "# 10452 00031\r\n"
	case "# 2":
		return "# 02.11\r\n"
	case "A":
		return d.measurement() + "\r\n"
	}
	return "E 02\r\n"
}

// measurement formats one LOX-02 reply with slowly drifting values.
func (d *DemoStream) measurement() string {
	d.t += 0.1

	pressure := 1013.0 + 4*math.Sin(d.t*0.05) + rand.Float64()
	percent := 20.9 + 0.3*math.Sin(d.t*0.2) + rand.Float64()*0.05
	ppO2 := pressure * percent / 100
	temp := 24.0 + 1.5*math.Sin(d.t*0.02) + rand.Float64()*0.1

	return fmt.Sprintf("O %06.1f T %+05.1f P %04.0f %% %06.2f e 0000", ppO2, temp, pressure, percent)
}
