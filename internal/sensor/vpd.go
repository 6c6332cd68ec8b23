package sensor

import (
	"math"
	"time"
)

// Derivation guard bounds. Outside these the Magnus-Tetens approximation is
// not trustworthy for grow-room conditions, so no synthetic reading is made.
const (
	vpdTempMinF = 32
	vpdTempMaxF = 140
)

// DeriveVPD appends a synthetic vpd reading to the batch when the batch has
// temperature and humidity but no vpd of its own. The result is rounded to
// two decimals and must land inside the vpd acceptance range, so a derived
// reading can never fail validation afterwards. The input slice is returned
// unchanged when derivation does not apply.
func DeriveVPD(readings []Reading, now time.Time) []Reading {
	var (
		temp, hum *Reading
	)
	for i := range readings {
		switch readings[i].Type {
		case TypeVPD:
			return readings
		case TypeTemperature:
			if temp == nil {
				temp = &readings[i]
			}
		case TypeHumidity:
			if hum == nil {
				hum = &readings[i]
			}
		}
	}
	if temp == nil || hum == nil {
		return readings
	}

	vpd, ok := ComputeVPD(temp.Value, hum.Value)
	if !ok {
		return readings
	}

	return append(readings, Reading{
		Type:       TypeVPD,
		Port:       0,
		Value:      vpd,
		Unit:       "kPa",
		RecordedAt: now,
		Stale:      false,
	})
}

// ComputeVPD calculates the vapor pressure deficit in kPa from a temperature
// in Fahrenheit and a relative humidity percentage, using the Magnus-Tetens
// saturation vapor pressure approximation. The second return is false when
// the inputs are outside the guard bounds or the result is not a usable vpd.
func ComputeVPD(tempF, humidity float64) (float64, bool) {
	if tempF < vpdTempMinF || tempF > vpdTempMaxF {
		return 0, false
	}
	if humidity < 0 || humidity > 100 {
		return 0, false
	}

	tempC := (tempF - 32) * 5 / 9
	svp := 0.6108 * math.Exp(17.27*tempC/(tempC+237.3))
	vpd := svp * (1 - humidity/100)
	vpd = math.Round(vpd*100) / 100

	if math.IsNaN(vpd) || math.IsInf(vpd, 0) {
		return 0, false
	}
	if rng, ok := validRanges[TypeVPD]; ok && (vpd < rng.Min || vpd > rng.Max) {
		return 0, false
	}
	return vpd, true
}
