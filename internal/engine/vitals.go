package engine

import (
	"math"
	"strconv"

	"github.com/wardsim/wardsim/internal/domain/patient"
)

// Rounding conventions for observation values: whole numbers for HR, BP, RR
// and GCS; one decimal place for SpO2, temperature, glucose, ketones and
// bicarbonate; two for pH.

func round0(v float64) float64 { return math.Round(v) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// formatNum renders a value the way a chart would: no trailing zeros.
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lerp(a, b, progress float64) float64 {
	return a + (b-a)*progress
}

// lerpOpt interpolates optional analytes. Both nil stays nil; a single
// revealed endpoint is treated as both endpoints.
func lerpOpt(a, b *float64, progress float64) *float64 {
	if a == nil && b == nil {
		return nil
	}
	av, bv := 0.0, 0.0
	switch {
	case a == nil:
		av, bv = *b, *b
	case b == nil:
		av, bv = *a, *a
	default:
		av, bv = *a, *b
	}
	v := lerp(av, bv, progress)
	return &v
}

// interpolateVitals blends two snapshots at the given progress in [0, 1].
func interpolateVitals(from, to patient.VitalsSnapshot, progress float64) patient.VitalsSnapshot {
	out := patient.VitalsSnapshot{
		HR:          round0(lerp(from.HR, to.HR, progress)),
		BPSystolic:  round0(lerp(from.BPSystolic, to.BPSystolic, progress)),
		BPDiastolic: round0(lerp(from.BPDiastolic, to.BPDiastolic, progress)),
		RR:          round0(lerp(from.RR, to.RR, progress)),
		SpO2:        round1(lerp(from.SpO2, to.SpO2, progress)),
		Temp:        round1(lerp(from.Temp, to.Temp, progress)),
		GCS:         round0(lerp(from.GCS, to.GCS, progress)),
	}
	if g := lerpOpt(from.Glucose, to.Glucose, progress); g != nil {
		v := round1(*g)
		out.Glucose = &v
	}
	if k := lerpOpt(from.Ketones, to.Ketones, progress); k != nil {
		v := round1(*k)
		out.Ketones = &v
	}
	if ph := lerpOpt(from.PH, to.PH, progress); ph != nil {
		v := round2(*ph)
		out.PH = &v
	}
	if b := lerpOpt(from.Bicarb, to.Bicarb, progress); b != nil {
		v := round1(*b)
		out.Bicarb = &v
	}
	return out
}

// stageStatus maps a stage name to the patient status it implies. The
// crash_call stage shares the collapsed status.
func stageStatus(stageName string) patient.Status {
	switch stageName {
	case "stable":
		return patient.StatusStable
	case "concerning":
		return patient.StatusConcerning
	case "critical":
		return patient.StatusCritical
	case "collapsed", "crash_call":
		return patient.StatusCollapsed
	case "resolved":
		return patient.StatusResolved
	default:
		return patient.StatusStable
	}
}

// retainRevealed carries every revealed analyte from prev into next,
// overriding any stage target. A halted patient keeps the exact values that
// were drawn, not the curve's.
func retainRevealed(next *patient.VitalsSnapshot, prev patient.VitalsSnapshot) {
	if prev.Glucose != nil {
		v := *prev.Glucose
		next.Glucose = &v
	}
	if prev.Ketones != nil {
		v := *prev.Ketones
		next.Ketones = &v
	}
	if prev.PH != nil {
		v := *prev.PH
		next.PH = &v
	}
	if prev.Bicarb != nil {
		v := *prev.Bicarb
		next.Bicarb = &v
	}
}

// preserveRevealed copies already-revealed analytes from prev into next
// wherever next would lose them. Revealed values never revert to unknown.
func preserveRevealed(next *patient.VitalsSnapshot, prev patient.VitalsSnapshot) {
	if prev.Glucose != nil && next.Glucose == nil {
		v := *prev.Glucose
		next.Glucose = &v
	}
	if prev.Ketones != nil && next.Ketones == nil {
		v := *prev.Ketones
		next.Ketones = &v
	}
	if prev.PH != nil && next.PH == nil {
		v := *prev.PH
		next.PH = &v
	}
	if prev.Bicarb != nil && next.Bicarb == nil {
		v := *prev.Bicarb
		next.Bicarb = &v
	}
}
