// Package sensor defines the measurement types shared by the adapters, the
// poll pipeline, and the stores, together with range validation and VPD
// derivation.
package sensor

import "time"

// Type identifies the physical quantity a reading measures.
type Type string

const (
	TypeTemperature Type = "temperature"
	TypeHumidity    Type = "humidity"
	TypeVPD         Type = "vpd"
	TypeCO2         Type = "co2"
	TypeLight       Type = "light"
	TypePH          Type = "ph"
	TypeEC          Type = "ec"
)

// Reading is one measurement of one sensor type at one instant.
// Port is 0 when the measurement is not tied to a specific device port.
type Reading struct {
	Type       Type      `json:"type"`
	Port       int       `json:"port"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
	Stale      bool      `json:"stale"`
}

// Range is a closed [Min, Max] acceptance interval.
type Range struct {
	Min float64
	Max float64
}

// validRanges holds the acceptance interval per sensor type. Temperature is
// Fahrenheit-equivalent; units follow the brand adapters' normalization.
var validRanges = map[Type]Range{
	TypeTemperature: {-40, 212},
	TypeHumidity:    {0, 100},
	TypeVPD:         {0, 5},
	TypeCO2:         {0, 10000},
	TypeLight:       {0, 200000},
	TypePH:          {0, 14},
	TypeEC:          {0, 20},
}

// ValidRange reports the acceptance interval for a sensor type, if one is
// defined.
func ValidRange(t Type) (Range, bool) {
	r, ok := validRanges[t]
	return r, ok
}

// Valid reports whether a reading's value falls inside the closed range for
// its type. Types without a defined range pass unconditionally so newer
// adapter firmware can surface quantities this build does not know about.
func Valid(r Reading) bool {
	rng, ok := validRanges[r.Type]
	if !ok {
		return true
	}
	return r.Value >= rng.Min && r.Value <= rng.Max
}

// FilterValid returns the readings that pass Valid, preserving order, plus
// the ones that were rejected so the caller can log them.
func FilterValid(readings []Reading) (valid, rejected []Reading) {
	for _, r := range readings {
		if Valid(r) {
			valid = append(valid, r)
		} else {
			rejected = append(rejected, r)
		}
	}
	return valid, rejected
}
