package engine

import (
	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
)

// DeteriorationResult records what one tick changed so the caller can emit
// the right notifications and log entries.
type DeteriorationResult struct {
	VitalsChanged      bool
	StatusChanged      bool
	OldStatus          patient.Status
	NewStatus          patient.Status
	FetalStatusChanged bool
	OldFetalStatus     patient.FetalStatus
	NewFetalStatus     patient.FetalStatus
}

// TickDeterioration advances one patient's physiology by one tick. It mutates
// the passed snapshot in place; the caller owns committing it back to the
// store. A halted patient snaps to the current stage target and never
// advances. Otherwise vitals interpolate from the previous stage target (or
// the admission vitals while in stage 0) toward the current stage target,
// with slow effects stretching the effective stage duration.
func TickDeterioration(p *patient.Patient, simClockMs int64, cfg *rules.ClinicalRulesConfig, rng Rand) DeteriorationResult {
	var result DeteriorationResult

	if !p.HasArrived {
		return result
	}

	curve, ok := cfg.DeteriorationCurves[p.DeteriorationType]
	if !ok || len(curve.Stages) == 0 {
		return result
	}
	if p.CurrentStageIndex < 0 || p.CurrentStageIndex >= len(curve.Stages) {
		return result
	}
	stage := curve.Stages[p.CurrentStageIndex]

	if p.IsHalted() {
		next := stage.Vitals
		retainRevealed(&next, p.CurrentVitals)
		p.CurrentVitals = next
		result.VitalsChanged = true
		return result
	}

	timeInStage := simClockMs - p.StageEnteredAtMs
	effDuration := float64(stage.DurationMs) * p.SlowFactor()

	from := p.CurrentVitals
	if p.CurrentStageIndex > 0 {
		from = curve.Stages[p.CurrentStageIndex-1].Vitals
	}
	progress := float64(timeInStage) / effDuration
	if progress > 1.0 {
		progress = 1.0
	}

	next := interpolateVitals(from, stage.Vitals, progress)
	preserveRevealed(&next, p.CurrentVitals)

	// Small per-tick variation so the monitor doesn't look frozen.
	next.HR = round0(next.HR + (rng.Float64()-0.5)*4)
	next.RR = round0(next.RR + (rng.Float64()-0.5)*2)
	next.SpO2 = round1(next.SpO2 + (rng.Float64()-0.5)*1)
	if next.SpO2 > 100 {
		next.SpO2 = 100
	}

	p.CurrentVitals = next
	p.CTGSummary = stage.CTGSummary
	result.VitalsChanged = true

	if st := stageStatus(stage.Name); st != p.Status {
		result.StatusChanged = true
		result.OldStatus = p.Status
		result.NewStatus = st
		p.Status = st
	}
	if stage.FetalStatus != "" && stage.FetalStatus != p.FetalStatus {
		result.FetalStatusChanged = true
		result.OldFetalStatus = p.FetalStatus
		result.NewFetalStatus = stage.FetalStatus
		p.FetalStatus = stage.FetalStatus
	}

	if float64(timeInStage) >= effDuration && p.CurrentStageIndex < len(curve.Stages)-1 {
		prevStatus := p.Status
		prevFetal := p.FetalStatus
		p.CurrentStageIndex++
		p.StageEnteredAtMs = simClockMs
		nextStage := curve.Stages[p.CurrentStageIndex]

		if st := stageStatus(nextStage.Name); st != prevStatus {
			result.StatusChanged = true
			result.OldStatus = prevStatus
			result.NewStatus = st
			p.Status = st
		}
		if nextStage.FetalStatus != "" && nextStage.FetalStatus != prevFetal {
			result.FetalStatusChanged = true
			result.OldFetalStatus = prevFetal
			result.NewFetalStatus = nextStage.FetalStatus
			p.FetalStatus = nextStage.FetalStatus
		}
	}

	return result
}

// ApplyIntervention appends a lasting effect to the patient. A reverse effect
// also rolls the patient back one stage immediately; halt and slow only
// change how future ticks progress.
func ApplyIntervention(p *patient.Patient, typ patient.InterventionType, simClockMs int64, slowFactor float64) {
	p.InterventionEffects = append(p.InterventionEffects, patient.InterventionEffect{
		Type:        typ,
		AppliedAtMs: simClockMs,
		SlowFactor:  slowFactor,
	})
	if typ == patient.InterventionReverse && p.CurrentStageIndex > 0 {
		p.CurrentStageIndex--
		p.StageEnteredAtMs = simClockMs
	}
}
