package engine

import (
	"fmt"
	"math"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
)

// Accuracy grades a prescription against the protocol.
type Accuracy string

const (
	AccuracyCorrect    Accuracy = "correct"
	AccuracyAcceptable Accuracy = "acceptable"
	AccuracyIncorrect  Accuracy = "incorrect"
	AccuracyDangerous  Accuracy = "dangerous"
)

// PrescriptionFeedback is the participant-facing grading of an order.
type PrescriptionFeedback struct {
	Accuracy      Accuracy `json:"accuracy"`
	ExpectedValue string   `json:"expected_value"`
	Feedback      string   `json:"feedback"`
}

// ValidationResult pairs the feedback with how strongly the order should act
// on the patient. Scale 1.0 is full clinical effect, 0.0 none.
type ValidationResult struct {
	Feedback          PrescriptionFeedback
	InterventionScale float64
}

// ValidatePrescription grades an order against the configured protocol.
// Validation is pure: it reads the patient but never mutates anything.
func ValidatePrescription(rx patient.Prescription, p *patient.Patient, cfg *rules.ClinicalRulesConfig) ValidationResult {
	switch rx.Type {
	case patient.PrescriptionFluids:
		return validateFluids(rx.DurationMinutes, cfg)
	case patient.PrescriptionInsulin:
		return validateInsulin(rx.RateMlPerHr, p, cfg)
	case patient.PrescriptionPotassium:
		return validatePotassium(rx.ConcentrationMmol, p, cfg)
	default:
		return ValidationResult{
			Feedback: PrescriptionFeedback{
				Accuracy: AccuracyIncorrect,
				Feedback: "Unrecognised prescription type.",
			},
			InterventionScale: 0.3,
		}
	}
}

// First fluid bag: 1000ml 0.9% NaCl over the protocol duration for the
// non-shocked patient. Within 15 minutes of target counts as correct.
func validateFluids(durationMinutes float64, cfg *rules.ClinicalRulesConfig) ValidationResult {
	proto := cfg.Treatment.FluidProtocol
	target := proto.FirstBagDurationMinutes
	diff := math.Abs(durationMinutes - target)

	var (
		accuracy Accuracy
		feedback string
		scale    float64
	)
	switch {
	case diff <= 15:
		accuracy = AccuracyCorrect
		feedback = fmt.Sprintf("Correct — 1000ml 0.9%% NaCl over %s minutes (protocol: %s min for SBP > %s).",
			formatNum(durationMinutes), formatNum(target), formatNum(proto.SBPShockedThreshold))
		scale = 1.0
	case durationMinutes >= 30 && durationMinutes <= 120:
		accuracy = AccuracyAcceptable
		feedback = fmt.Sprintf("Acceptable — protocol recommends %s minutes for the first bag (SBP > %s). You prescribed %s min.",
			formatNum(target), formatNum(proto.SBPShockedThreshold), formatNum(durationMinutes))
		scale = 0.7
	case durationMinutes < 30:
		accuracy = AccuracyDangerous
		feedback = fmt.Sprintf("Too fast — %s min risks fluid overload, especially in pregnancy. Protocol: %s min for non-shocked patients.",
			formatNum(durationMinutes), formatNum(target))
		scale = 0.0
	default:
		accuracy = AccuracyIncorrect
		feedback = fmt.Sprintf("Too slow — %s min will delay resuscitation. Protocol: %s min for the first bag.",
			formatNum(durationMinutes), formatNum(target))
		scale = 0.3
	}

	return ValidationResult{
		Feedback: PrescriptionFeedback{
			Accuracy:      accuracy,
			ExpectedValue: fmt.Sprintf("%s minutes", formatNum(target)),
			Feedback:      feedback,
		},
		InterventionScale: scale,
	}
}

// Fixed-rate insulin infusion: weight x 0.1 units/kg/hr at 1 unit/ml, capped
// at the protocol maximum, so the pump rate in ml/hr equals units/hr.
func validateInsulin(rateMlPerHr float64, p *patient.Patient, cfg *rules.ClinicalRulesConfig) ValidationResult {
	proto := cfg.Treatment.InsulinProtocol
	correct := math.Min(round1(p.Weight*proto.RateUnitsPerKgHr), proto.MaxRateMlPerHr)
	diff := math.Abs(rateMlPerHr - correct)

	var (
		accuracy Accuracy
		feedback string
		scale    float64
	)
	switch {
	case diff <= 0.2:
		accuracy = AccuracyCorrect
		feedback = fmt.Sprintf("Correct — %skg × 0.1 units/kg/hr = %s ml/hr. You prescribed %s ml/hr.",
			formatNum(p.Weight), formatNum(correct), formatNum(rateMlPerHr))
		scale = 1.0
	case diff <= 1.0:
		accuracy = AccuracyAcceptable
		feedback = fmt.Sprintf("Close — correct rate is %s ml/hr (%skg × 0.1). You prescribed %s ml/hr.",
			formatNum(correct), formatNum(p.Weight), formatNum(rateMlPerHr))
		scale = 0.7
	case diff <= 2.0:
		accuracy = AccuracyIncorrect
		feedback = fmt.Sprintf("Incorrect — correct rate is %s ml/hr (%skg × 0.1 units/kg/hr). You prescribed %s ml/hr.",
			formatNum(correct), formatNum(p.Weight), formatNum(rateMlPerHr))
		scale = 0.3
	default:
		accuracy = AccuracyDangerous
		if rateMlPerHr > correct {
			feedback = fmt.Sprintf("Dangerous — %s ml/hr is significantly too high. Risk of severe hypoglycaemia. Correct: %s ml/hr (%skg × 0.1).",
				formatNum(rateMlPerHr), formatNum(correct), formatNum(p.Weight))
		} else {
			feedback = fmt.Sprintf("Dangerous — %s ml/hr is significantly too low. Inadequate treatment. Correct: %s ml/hr (%skg × 0.1).",
				formatNum(rateMlPerHr), formatNum(correct), formatNum(p.Weight))
		}
		scale = 0.0
	}

	return ValidationResult{
		Feedback: PrescriptionFeedback{
			Accuracy:      accuracy,
			ExpectedValue: fmt.Sprintf("%s ml/hr", formatNum(correct)),
			Feedback:      feedback,
		},
		InterventionScale: scale,
	}
}

// Potassium replacement bands on the last measured K+: below the low
// threshold 40 mmol/L with senior review, in range 20 mmol/L, above the high
// threshold none at all. Prescribing without a measured level is graded
// incorrect regardless of the chosen concentration.
func validatePotassium(concentrationMmol float64, p *patient.Patient, cfg *rules.ClinicalRulesConfig) ValidationResult {
	if p.LastKnownPotassium == nil {
		return ValidationResult{
			Feedback: PrescriptionFeedback{
				Accuracy:      AccuracyIncorrect,
				ExpectedValue: "Check K+ first",
				Feedback:      "Potassium level not yet known — check serum K+ before prescribing replacement.",
			},
			InterventionScale: 0.3,
		}
	}

	k := *p.LastKnownPotassium
	proto := cfg.Treatment.PotassiumProtocol

	var correct float64
	var band string
	switch {
	case k < proto.LowThreshold:
		correct = 40
		band = fmt.Sprintf("K+ %s mmol/L (< %s) — 40 mmol/L KCl with senior review",
			formatNum(k), formatNum(proto.LowThreshold))
	case k <= proto.HighThreshold:
		correct = 20
		band = fmt.Sprintf("K+ %s mmol/L (%s–%s) — 20 mmol/L KCl",
			formatNum(k), formatNum(proto.LowThreshold), formatNum(proto.HighThreshold))
	default:
		correct = 0
		band = fmt.Sprintf("K+ %s mmol/L (> %s) — no KCl needed",
			formatNum(k), formatNum(proto.HighThreshold))
	}

	var (
		accuracy Accuracy
		feedback string
		scale    float64
	)
	switch {
	case concentrationMmol == correct:
		accuracy = AccuracyCorrect
		feedback = fmt.Sprintf("Correct — %s. You prescribed %s mmol/L.", band, formatNum(concentrationMmol))
		scale = 1.0
	case math.Abs(concentrationMmol-correct) <= 20:
		accuracy = AccuracyAcceptable
		feedback = fmt.Sprintf("Close — %s. You prescribed %s mmol/L.", band, formatNum(concentrationMmol))
		scale = 0.5
	case (k > proto.HighThreshold && concentrationMmol > 0) || (k < proto.LowThreshold && concentrationMmol == 0):
		accuracy = AccuracyDangerous
		if k > proto.HighThreshold {
			feedback = fmt.Sprintf("Dangerous — K+ is %s mmol/L (> %s). Giving KCl risks hyperkalaemia and cardiac arrest.",
				formatNum(k), formatNum(proto.HighThreshold))
		} else {
			feedback = fmt.Sprintf("Dangerous — K+ is %s mmol/L (< %s). Withholding replacement risks severe hypokalaemia.",
				formatNum(k), formatNum(proto.LowThreshold))
		}
		scale = 0.0
	default:
		accuracy = AccuracyIncorrect
		feedback = fmt.Sprintf("Incorrect — %s. You prescribed %s mmol/L.", band, formatNum(concentrationMmol))
		scale = 0.3
	}

	return ValidationResult{
		Feedback: PrescriptionFeedback{
			Accuracy:      accuracy,
			ExpectedValue: fmt.Sprintf("%s mmol/L", formatNum(correct)),
			Feedback:      feedback,
		},
		InterventionScale: scale,
	}
}
