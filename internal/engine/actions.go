package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
	"github.com/wardsim/wardsim/internal/domain/session"
)

// labActions are investigations that run through the lab and are blocked
// while lab services are down.
var labActions = map[string]bool{
	"fbc":             true,
	"group_and_save":  true,
	"crossmatch":      true,
	"check_potassium": true,
	"check_lactate":   true,
}

// CanPerformAction checks eligibility without side effects. The returned
// reason is participant-facing; the first failed check wins.
func CanPerformAction(p *patient.Patient, actionKey string, cfg *rules.ClinicalRulesConfig, res *session.ResourceState) (bool, string) {
	def := cfg.ActionDef(actionKey)
	if def == nil {
		return false, "Unknown action."
	}
	if p.HasCompleted(actionKey) {
		return false, "Already completed."
	}
	if p.HasPending(actionKey) {
		return false, "Already in progress."
	}
	for _, prereq := range def.Prerequisites {
		if !p.HasCompleted(prereq) {
			label := prereq
			if prereqDef := cfg.ActionDef(prereq); prereqDef != nil {
				label = prereqDef.Label
			}
			return false, fmt.Sprintf("Requires %s first.", label)
		}
	}
	available := false
	for _, k := range p.AvailableActions {
		if k == actionKey {
			available = true
			break
		}
	}
	if !available {
		return false, "Not available for this patient."
	}
	if actionKey == "check_ketones" && !res.KetometerAvailable {
		return false, "Ketone meter not available on the unit."
	}
	if labActions[actionKey] && !res.LabsAvailable {
		return false, "Lab services currently delayed."
	}
	return true, ""
}

// Submission is the accepted outcome of SubmitAction.
type Submission struct {
	Pending              patient.PendingAction
	DelayMs              int64
	PrescriptionFeedback *PrescriptionFeedback
}

// SubmitAction re-checks eligibility and queues the action with its effective
// delay. Bedside tests keep their base delay; other investigations are
// stretched by the current lab delay multiplier. A prescription supplied with
// the order is graded immediately for feedback and carried on the pending
// action so its accuracy can shape the clinical effect at completion. The
// patient snapshot is mutated in place; the caller commits it.
func SubmitAction(p *patient.Patient, actionKey string, userID uuid.UUID, simClockMs int64, cfg *rules.ClinicalRulesConfig, res *session.ResourceState, rx *patient.Prescription) (*Submission, error) {
	allowed, reason := CanPerformAction(p, actionKey, cfg, res)
	if !allowed {
		return nil, fmt.Errorf("%s", reason)
	}

	def := cfg.ActionDef(actionKey)
	delayMs := def.DelayMs
	if def.Category == rules.CategoryInvestigation && actionKey != "check_glucose" && actionKey != "check_ketones" {
		delayMs = int64(round0(float64(delayMs) * res.LabDelayMultiplier))
	}

	sub := &Submission{
		Pending: patient.PendingAction{
			ActionKey:     actionKey,
			SubmittedAtMs: simClockMs,
			CompletesAtMs: simClockMs + delayMs,
			UserID:        userID,
		},
		DelayMs: delayMs,
	}
	if def.RequiresPrescription && rx != nil {
		vr := ValidatePrescription(*rx, p, cfg)
		sub.PrescriptionFeedback = &vr.Feedback
		rxCopy := *rx
		sub.Pending.Prescription = &rxCopy
	}

	p.PendingActions = append(p.PendingActions, sub.Pending)
	return sub, nil
}

// ActionResult is what a completed action reports back: a labelled value for
// the participant plus flags the scorer keys on.
type ActionResult struct {
	Label                string                `json:"label"`
	Value                string                `json:"value"`
	Normal               bool                  `json:"normal"`
	Flag                 string                `json:"flag,omitempty"`
	IsRecognitionEvent   bool                  `json:"is_recognition_event,omitempty"`
	IsEscalationEvent    bool                  `json:"is_escalation_event,omitempty"`
	IsTreatmentEvent     bool                  `json:"is_treatment_event,omitempty"`
	PrescriptionFeedback *PrescriptionFeedback `json:"prescription_feedback,omitempty"`
}

// ToDetail renders the result as an event-log detail map. Marker fields are
// only present when set so log queries can test for their presence.
func (r ActionResult) ToDetail() map[string]interface{} {
	d := map[string]interface{}{
		"label":  r.Label,
		"value":  r.Value,
		"normal": r.Normal,
	}
	if r.Flag != "" {
		d["flag"] = r.Flag
	}
	if r.IsRecognitionEvent {
		d["is_recognition_event"] = true
	}
	if r.IsEscalationEvent {
		d["is_escalation_event"] = true
	}
	if r.IsTreatmentEvent {
		d["is_treatment_event"] = true
	}
	if r.PrescriptionFeedback != nil {
		d["prescription"] = map[string]interface{}{
			"accuracy":       string(r.PrescriptionFeedback.Accuracy),
			"expected_value": r.PrescriptionFeedback.ExpectedValue,
			"feedback":       r.PrescriptionFeedback.Feedback,
		}
	}
	return d
}

// CompletedAction pairs an action key with its generated result.
type CompletedAction struct {
	ActionKey string
	Result    ActionResult
}

// ProcessCompletedActions resolves every pending action whose completion time
// has been reached (ties complete). Each completion generates a result,
// moves the key from pending to completed, and may reveal analytes or apply
// intervention effects on the snapshot. Remaining pendings are kept.
func ProcessCompletedActions(p *patient.Patient, simClockMs int64, cfg *rules.ClinicalRulesConfig, rng Rand) []CompletedAction {
	var completed []CompletedAction
	var stillPending []patient.PendingAction

	for _, pa := range p.PendingActions {
		if simClockMs >= pa.CompletesAtMs {
			result := generateActionResult(p, pa, cfg, simClockMs, rng)
			completed = append(completed, CompletedAction{ActionKey: pa.ActionKey, Result: result})
			p.CompletedActions = append(p.CompletedActions, pa.ActionKey)
		} else {
			stillPending = append(stillPending, pa)
		}
	}

	if len(completed) > 0 {
		p.PendingActions = stillPending
	}
	return completed
}

// fluidsSlowBase is the slow factor a perfectly prescribed first fluid bag
// applies to a DKA patient's deterioration.
const fluidsSlowBase = 3.0

// generateActionResult produces the clinical result of one completed action
// and applies its side effects to the snapshot: revealed analytes are written
// into current vitals permanently, escalations and treatments append
// intervention effects.
func generateActionResult(p *patient.Patient, pa patient.PendingAction, cfg *rules.ClinicalRulesConfig, simClockMs int64, rng Rand) ActionResult {
	var stageVitals *patient.VitalsSnapshot
	if curve, ok := cfg.DeteriorationCurves[p.DeteriorationType]; ok {
		if p.CurrentStageIndex >= 0 && p.CurrentStageIndex < len(curve.Stages) {
			stageVitals = &curve.Stages[p.CurrentStageIndex].Vitals
		}
	}

	switch pa.ActionKey {
	case "check_glucose":
		glucose := 4.5 + rng.Float64()*1.5
		if p.IsDKA {
			glucose = 14.2
			if stageVitals != nil && stageVitals.Glucose != nil {
				glucose = *stageVitals.Glucose
			}
		}
		v := round1(glucose)
		p.CurrentVitals.Glucose = &v
		r := ActionResult{
			Label:  "Blood Glucose",
			Value:  fmt.Sprintf("%s mmol/L", formatNum(v)),
			Normal: v < cfg.DKATriggers.GlucoseThreshold,
		}
		if v >= cfg.DKATriggers.GlucoseThreshold {
			r.Flag = "HIGH — Consider DKA. Check ketones urgently."
		}
		return r

	case "check_ketones":
		ketones := 0.1 + rng.Float64()*0.3
		if p.IsDKA {
			ketones = 4.1
			if stageVitals != nil && stageVitals.Ketones != nil {
				ketones = *stageVitals.Ketones
			}
		}
		v := round1(ketones)
		p.CurrentVitals.Ketones = &v
		if p.IsDKA && v >= cfg.DKATriggers.KetoneThreshold {
			return ActionResult{
				Label:              "Blood Ketones",
				Value:              fmt.Sprintf("%s mmol/L", formatNum(v)),
				Normal:             false,
				Flag:               "CRITICAL — Ketones significantly raised. DKA suspected. Escalate immediately and commence DKA pathway.",
				IsRecognitionEvent: true,
			}
		}
		return ActionResult{
			Label:  "Blood Ketones",
			Value:  fmt.Sprintf("%s mmol/L", formatNum(v)),
			Normal: v < cfg.DKATriggers.KetoneThreshold,
		}

	case "request_abg":
		ph := 7.38 + rng.Float64()*0.04
		bicarb := 22 + rng.Float64()*4
		if p.IsDKA {
			ph, bicarb = 7.28, 12
			if stageVitals != nil && stageVitals.PH != nil {
				ph = *stageVitals.PH
			}
			if stageVitals != nil && stageVitals.Bicarb != nil {
				bicarb = *stageVitals.Bicarb
			}
		}
		rph, rbic := round2(ph), round1(bicarb)
		p.CurrentVitals.PH = &rph
		p.CurrentVitals.Bicarb = &rbic
		r := ActionResult{
			Label:  "Arterial Blood Gas",
			Value:  fmt.Sprintf("pH %s, HCO₃⁻ %s mmol/L", formatNum(rph), formatNum(rbic)),
			Normal: rph >= cfg.DKATriggers.PHThreshold,
		}
		if rph < cfg.DKATriggers.PHThreshold {
			r.Flag = "Metabolic acidosis — consistent with DKA."
		}
		return r

	case "check_potassium":
		// K+ can sit normal or high in DKA despite total body depletion.
		k := 3.8 + rng.Float64()*0.8
		if p.IsDKA {
			k = 4.8 + rng.Float64()*1.5
		}
		v := round1(k)
		p.LastKnownPotassium = &v
		low, high := cfg.Treatment.PotassiumProtocol.LowThreshold, cfg.Treatment.PotassiumProtocol.HighThreshold
		r := ActionResult{
			Label:  "Serum Potassium",
			Value:  fmt.Sprintf("%s mmol/L", formatNum(v)),
			Normal: v >= low && v <= high,
		}
		switch {
		case v > high:
			r.Flag = "Elevated — monitor closely. May drop rapidly with insulin."
		case v < low:
			r.Flag = "Low — replace before starting insulin."
		}
		return r

	case "check_lactate":
		lactate := 0.5 + rng.Float64()*1
		if p.IsDKA {
			lactate = 2.5 + rng.Float64()*2
		}
		v := round1(lactate)
		r := ActionResult{
			Label:  "Lactate",
			Value:  fmt.Sprintf("%s mmol/L", formatNum(v)),
			Normal: v < 2.0,
		}
		if v >= 2.0 {
			r.Flag = "Elevated lactate — consider cause."
		}
		return r

	case "fbc":
		wbc := 6 + rng.Float64()*4
		if p.IsDKA {
			wbc = 14 + rng.Float64()*6
		}
		hb := 115 + rng.Float64()*20
		if p.ScenarioPatientKey == "pvb_patient" {
			hb = 95 + rng.Float64()*15
		}
		rwbc, rhb := round1(wbc), round0(hb)
		r := ActionResult{
			Label:  "Full Blood Count",
			Value:  fmt.Sprintf("WBC %s, Hb %s, Plt 220", formatNum(rwbc), formatNum(rhb)),
			Normal: rwbc < 11 && rhb > 110,
		}
		if rwbc >= 11 {
			r.Flag = "Raised WCC — may be stress response or infection."
		}
		return r

	case "group_and_save":
		return ActionResult{
			Label:  "Group & Save",
			Value:  "O Rhesus Positive. Antibody screen negative.",
			Normal: true,
		}

	case "crossmatch":
		return ActionResult{
			Label:  "Crossmatch",
			Value:  "2 units crossmatched and available.",
			Normal: true,
		}

	case "maternal_observations":
		v := p.CurrentVitals
		return ActionResult{
			Label: "Maternal Observations",
			Value: fmt.Sprintf("HR %s, BP %s/%s, RR %s, SpO₂ %s%%, Temp %s°C",
				formatNum(v.HR), formatNum(v.BPSystolic), formatNum(v.BPDiastolic),
				formatNum(v.RR), formatNum(v.SpO2), formatNum(v.Temp)),
			Normal: v.HR < 100 && v.RR < 22 && v.SpO2 > 95,
		}

	case "continuous_ctg":
		r := ActionResult{
			Label:  "Continuous CTG",
			Value:  p.CTGSummary,
			Normal: p.FetalStatus == patient.FetalReassuring,
		}
		if p.FetalStatus != patient.FetalReassuring {
			r.Flag = fmt.Sprintf("CTG classification: %s", strings.ReplaceAll(string(p.FetalStatus), "_", "-"))
		}
		return r

	case "speculum_exam":
		if p.ScenarioPatientKey == "pvb_patient" {
			return ActionResult{
				Label:  "Speculum Examination",
				Value:  "Os closed. Small amount of blood in vagina. No active bleeding seen. Cervix appears normal.",
				Normal: true,
			}
		}
		return ActionResult{
			Label:  "Speculum Examination",
			Value:  "Os closed. No bleeding. Cervix appears normal.",
			Normal: true,
		}

	case "request_ultrasound":
		if p.ScenarioPatientKey == "pvb_patient" {
			return ActionResult{
				Label:  "Ultrasound",
				Value:  "Placenta posterior, upper segment. Small retroplacental collection (2cm). No previa. Fetal biometry appropriate. Liquor volume normal.",
				Normal: false,
				Flag:   "Small retroplacental collection — consistent with marginal abruption. Advise ongoing monitoring.",
			}
		}
		return ActionResult{
			Label:  "Ultrasound",
			Value:  "Normal fetal biometry. Placenta not low-lying. Liquor volume normal.",
			Normal: true,
		}

	case "escalate_registrar":
		if p.IsDKA {
			ApplyIntervention(p, patient.InterventionSlow, simClockMs, 1.5)
		}
		return ActionResult{
			Label:             "Escalation — Registrar",
			Value:             "Registrar notified and reviewing. Will attend within 10 minutes.",
			Normal:            true,
			IsEscalationEvent: true,
		}

	case "escalate_consultant":
		if p.IsDKA {
			ApplyIntervention(p, patient.InterventionSlow, simClockMs, 2.0)
		}
		return ActionResult{
			Label:             "Escalation — Consultant",
			Value:             "Consultant contacted. Attending urgently.",
			Normal:            true,
			IsEscalationEvent: true,
		}

	case "start_iv_fluids":
		var fb *PrescriptionFeedback
		scale := 1.0
		if pa.Prescription != nil {
			vr := ValidatePrescription(*pa.Prescription, p, cfg)
			fb = &vr.Feedback
			scale = vr.InterventionScale
		}
		if p.IsDKA {
			// A sloppy prescription blunts the resuscitation: a perfect bag
			// slows deterioration by the full base factor, a dangerous one
			// not at all.
			factor := 1.0 + (fluidsSlowBase-1.0)*scale
			if factor > 1.0 {
				ApplyIntervention(p, patient.InterventionSlow, simClockMs, factor)
			}
		}
		proto := cfg.Treatment.FluidProtocol
		return ActionResult{
			Label: "IV Fluids",
			Value: fmt.Sprintf("IV access obtained. %smL 0.9%% NaCl commenced over %s minutes.",
				formatNum(proto.FirstBagVolume), formatNum(proto.FirstBagDurationMinutes)),
			Normal:               true,
			IsTreatmentEvent:     true,
			PrescriptionFeedback: fb,
		}

	case "start_insulin":
		var fb *PrescriptionFeedback
		if pa.Prescription != nil {
			vr := ValidatePrescription(*pa.Prescription, p, cfg)
			fb = &vr.Feedback
		}
		if p.IsDKA {
			ApplyIntervention(p, patient.InterventionHalt, simClockMs, 0)
		}
		return ActionResult{
			Label: "Insulin Infusion",
			Value: fmt.Sprintf("Fixed-rate insulin infusion commenced at %s units/kg/hr.",
				formatNum(cfg.Treatment.InsulinProtocol.RateUnitsPerKgHr)),
			Normal:               true,
			IsTreatmentEvent:     true,
			PrescriptionFeedback: fb,
		}

	case "start_potassium_replacement":
		var fb *PrescriptionFeedback
		if pa.Prescription != nil {
			vr := ValidatePrescription(*pa.Prescription, p, cfg)
			fb = &vr.Feedback
		}
		return ActionResult{
			Label:                "Potassium Replacement",
			Value:                "Potassium replacement commenced as per protocol.",
			Normal:               true,
			IsTreatmentEvent:     true,
			PrescriptionFeedback: fb,
		}

	default:
		return ActionResult{Label: pa.ActionKey, Value: "Completed.", Normal: true}
	}
}
