package models

import (
	"fmt"
	"math"
	"time"
)

// Reading represents a single observation taken from the DTU
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Power       float64   `json:"power"`        // Instantaneous power in W
	EnergyDaily float64   `json:"energy_daily"` // Energy since local midnight in kWh
	EnergyTotal float64   `json:"energy_total"` // Lifetime energy in MWh
}

// NoReading is returned when no data has been recorded yet. All of its
// fields are unknown; check with Known.
var NoReading = Reading{}

// Known reports whether r holds an actual observation
func (r Reading) Known() bool {
	return !r.Timestamp.IsZero()
}

// Rounded returns r with power rounded to whole watts and both energy
// counters rounded to two decimals
func (r Reading) Rounded() Reading {
	r.Power = math.Round(r.Power)
	r.EnergyDaily = round2(r.EnergyDaily)
	r.EnergyTotal = round2(r.EnergyTotal)
	return r
}

// SameDay reports whether a and b fall on the same calendar date in loc
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func (r Reading) String() string {
	if !r.Known() {
		return "no data"
	}
	return fmt.Sprintf("%s power=%.0fW daily=%.2fkWh total=%.2fMWh",
		r.Timestamp.Format("2006-01-02 15:04"), r.Power, r.EnergyDaily, r.EnergyTotal)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
