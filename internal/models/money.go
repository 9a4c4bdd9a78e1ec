package models

import (
	"math"
	"strconv"
)

// Cents is a fixed-point monetary amount in cents with four decimal places.
// One cent is 10000 units, so the smallest representable amount is 0.0001
// cent. Wire form is a plain float of cents; conversion happens only on
// ingress and egress so arithmetic inside the system stays integral.
type Cents int64

const centsScale = 10_000

// CentsFromFloat converts a float cent amount to fixed point, rounding half
// away from zero.
func CentsFromFloat(f float64) Cents {
	return Cents(math.Round(f * centsScale))
}

// CentsFromInt converts a whole cent amount to fixed point.
func CentsFromInt(n int) Cents {
	return Cents(int64(n) * centsScale)
}

// Float renders the amount as float cents for the wire.
func (c Cents) Float() float64 {
	return float64(c) / centsScale
}

func (c Cents) String() string {
	return strconv.FormatFloat(c.Float(), 'f', 4, 64)
}

// MarshalJSON emits the wire form: a JSON number of cents with 4 decimals.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*c = CentsFromFloat(f)
	return nil
}
