package luminox

import (
	"strconv"
	"strings"
)

// Reply layouts of the 'A' command. Whitespace in a layout matches any run
// of whitespace (including none), %f a number, %s a status token and %% a
// literal percent sign.
const (
	layoutFull    = "O %f T %f P %f %% %f e %s" // LOX-02
	layoutMinimal = "O %f T %f e %s"            // LOX-01 and minimal firmware
	layoutPrefix  = "O %f T %f"

	errorPrefix = "E "
	dashRun     = "-----"

	// maxStatusLen caps the status token, longer tokens are truncated.
	maxStatusLen = 15

	errParseFailed = "Parse failed"
)

// Parse decodes one cleaned reply line. The formats are tried in a fixed
// order and each attempt starts from a fresh Reading. The returned bool is
// the validity verdict, it is false for every error outcome.
func Parse(line string) (Reading, bool) {
	r := NewReading()
	r.Raw = line

	// An error line must never be mistaken for data.
	if strings.HasPrefix(line, errorPrefix) {
		r.Error = line
		r.Status = StatusError
		return r, false
	}

	if v, status, ok := scanLayout(line, layoutFull); ok {
		r.PPO2 = v[0]
		r.Temperature = v[1]
		r.Pressure = v[2]
		r.O2Percent = v[3]
		r.Status = status
		r.Valid = status == StatusOK && r.PPO2 > minPPO2
		return r, r.Valid
	}

	if v, status, ok := scanLayout(line, layoutMinimal); ok {
		r.PPO2 = v[0]
		r.Temperature = v[1]
		r.Status = status
		r.Valid = status == StatusOK && r.PPO2 > minPPO2
		return r, r.Valid
	}

	// Placeholder replies carry no status code, only ppO2 and temperature.
	if strings.Index(line, dashRun) > 0 {
		if v, _, ok := scanLayout(line, layoutPrefix); ok {
			r.PPO2 = v[0]
			r.Temperature = v[1]
			r.Status = StatusDegraded
			r.Valid = r.PPO2 > minPPO2
			return r, r.Valid
		}
	}

	r.Error = errParseFailed
	return r, false
}

// scanLayout matches line against layout with scanf semantics and returns
// the numbers and the status token it captured. Text after the last
// directive is ignored.
func scanLayout(line, layout string) ([]float64, string, bool) {
	sc := &lineScanner{s: line}
	var (
		nums   []float64
		status string
	)
	for i := 0; i < len(layout); i++ {
		c := layout[i]
		switch {
		case isSpace(c):
			sc.skipSpace()
		case c == '%' && i+1 < len(layout):
			i++
			switch layout[i] {
			case 'f':
				v, ok := sc.number()
				if !ok {
					return nil, "", false
				}
				nums = append(nums, v)
			case 's':
				w, ok := sc.token(maxStatusLen)
				if !ok {
					return nil, "", false
				}
				status = w
			case '%':
				sc.skipSpace()
				if !sc.literal('%') {
					return nil, "", false
				}
			}
		default:
			if !sc.literal(c) {
				return nil, "", false
			}
		}
	}
	return nums, status, true
}

type lineScanner struct {
	s   string
	pos int
}

func (sc *lineScanner) skipSpace() {
	for sc.pos < len(sc.s) && isSpace(sc.s[sc.pos]) {
		sc.pos++
	}
}

func (sc *lineScanner) literal(c byte) bool {
	if sc.pos < len(sc.s) && sc.s[sc.pos] == c {
		sc.pos++
		return true
	}
	return false
}

// number scans a decimal float: optional sign, digits with an optional
// fraction, and an exponent only when digits follow it.
func (sc *lineScanner) number() (float64, bool) {
	sc.skipSpace()
	s := sc.s
	i := sc.pos
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	v, err := strconv.ParseFloat(s[sc.pos:i], 64)
	if err != nil {
		return 0, false
	}
	sc.pos = i
	return v, true
}

// token scans up to max non-space bytes.
func (sc *lineScanner) token(max int) (string, bool) {
	sc.skipSpace()
	start := sc.pos
	for sc.pos < len(sc.s) && sc.pos-start < max && !isSpace(sc.s[sc.pos]) {
		sc.pos++
	}
	if sc.pos == start {
		return "", false
	}
	return sc.s[start:sc.pos], true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
