package luminox

import (
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the LuminOx factory setting (9600 8N1).
	DefaultBaudRate = 9600

	// serialPollTimeout keeps Available close to non-blocking.
	serialPollTimeout = 1 * time.Millisecond
)

// SerialStream adapts a UART to the Stream interface. Bytes are pulled
// from the port into a local buffer whenever it runs empty.
type SerialStream struct {
	port serial.Port
	buf  []byte
	rx   [256]byte
}

// OpenSerial opens the sensor UART at baud (DefaultBaudRate when zero).
func OpenSerial(path string, baud int) (*SerialStream, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("luminox: failed to open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(serialPollTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("luminox: failed to set timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[luminox] reset input buffer on %s: %v", path, err)
	}
	log.Printf("[luminox] opened %s at %d baud", path, baud)
	return &SerialStream{port: port}, nil
}

func (s *SerialStream) Available() int {
	if len(s.buf) == 0 {
		n, err := s.port.Read(s.rx[:])
		if err != nil {
			return 0
		}
		s.buf = append(s.buf, s.rx[:n]...)
	}
	return len(s.buf)
}

func (s *SerialStream) ReadByte() (byte, error) {
	if len(s.buf) == 0 && s.Available() == 0 {
		return 0, fmt.Errorf("luminox: no data available")
	}
	c := s.buf[0]
	s.buf = s.buf[1:]
	return c, nil
}

func (s *SerialStream) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialStream) Close() error {
	return s.port.Close()
}
