package gauge

import (
	"fmt"
	"math"
	"time"

	"github.com/jgoulah/dtumonitor/pkg/models"
)

// The donut is a 360° ring: a 240° scale split into active and inactive
// parts, plus a fixed transparent gap at the bottom.
const (
	ScaleDeg = 240.0
	GapDeg   = 120.0

	// Placeholder is shown instead of numbers when there is no data
	Placeholder = "--"
)

// Icons are image paths rendered next to each figure. Empty paths are skipped.
type Icons struct {
	Power string `json:"power,omitempty"`
	Daily string `json:"daily,omitempty"`
	Total string `json:"total,omitempty"`
}

// Options is the static configuration of the gauge
type Options struct {
	MaxPower float64 // Peak system power in W
	Icons    Icons
}

// View is everything needed to draw one gauge
type View struct {
	Known       bool      `json:"known"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
	Fraction    float64   `json:"fraction"`
	ActiveDeg   float64   `json:"active_deg"`
	InactiveDeg float64   `json:"inactive_deg"`
	GapDeg      float64   `json:"gap_deg"`
	PowerText   string    `json:"power_text"`
	DailyText   string    `json:"daily_text"`
	TotalText   string    `json:"total_text"`
	Icons       Icons     `json:"icons"`
}

// Project maps a reading onto the gauge. It is a pure function of its
// arguments; an unknown reading yields an empty scale and placeholders.
func Project(r models.Reading, opts Options) View {
	v := View{
		Known:     r.Known(),
		GapDeg:    GapDeg,
		PowerText: Placeholder,
		DailyText: Placeholder,
		TotalText: Placeholder,
		Icons:     opts.Icons,
	}
	if !v.Known {
		v.InactiveDeg = ScaleDeg
		return v
	}

	v.Timestamp = r.Timestamp
	v.Fraction = Fraction(r.Power, opts.MaxPower)
	v.ActiveDeg = ScaleDeg * v.Fraction
	v.InactiveDeg = ScaleDeg - v.ActiveDeg
	v.PowerText = fmt.Sprintf("%.0f W", r.Power)
	v.DailyText = fmt.Sprintf("%.2f kWh", r.EnergyDaily)
	v.TotalText = fmt.Sprintf("%.2f MWh", r.EnergyTotal)
	return v
}

// Fraction returns min(power/maxPower, 1), never below 0
func Fraction(power, maxPower float64) float64 {
	if maxPower <= 0 || power <= 0 || math.IsNaN(power) {
		return 0
	}
	return math.Min(power/maxPower, 1)
}
