package luminox

import "time"

// Reading holds one decoded response to the 'A' (read all) command.
// A Reading is a value: every read produces a fresh one.
type Reading struct {
	PPO2        float64   `json:"ppO2"`        // Partial pressure of O2, mbar
	O2Percent   float64   `json:"o2Percent"`   // -1 when the wire format omits it
	Temperature float64   `json:"temperature"` // °C
	Pressure    float64   `json:"pressure"`    // mbar, -1 when omitted
	Status      string    `json:"status"`      // "0000" is all-clear
	Valid       bool      `json:"valid"`
	Raw         string    `json:"raw"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

const (
	// StatusOK is the sensor's all-clear status code.
	StatusOK = "0000"
	// StatusError marks a reply the sensor itself reported as an error.
	StatusError = "ERROR"
	// StatusDegraded tags the dashed LOX-01 placeholder format.
	StatusDegraded = "LOX-01"

	// Absent marks a field the wire format did not provide.
	Absent = -1.0

	// minPPO2 is the lowest partial pressure (exclusive) accepted as a real reading.
	minPPO2 = 0.05
)

// NewReading returns a Reading with every field at its default:
// zero ppO2/temperature and absent pressure/percentage.
func NewReading() Reading {
	return Reading{
		O2Percent: Absent,
		Pressure:  Absent,
	}
}

// HasPressure reports whether the reply carried a barometric pressure.
func (r Reading) HasPressure() bool { return r.Pressure != Absent }

// HasO2Percent reports whether the reply carried an O2 percentage.
func (r Reading) HasO2Percent() bool { return r.O2Percent != Absent }
