// Package patient holds the simulated patient model: demographic narrative
// fields fixed at creation time plus the mutable simulation state the tick
// engine advances (vitals, deterioration stage, pending actions, intervention
// effects).
package patient

import (
	"github.com/google/uuid"
)

// Status describes the patient's overall clinical state, derived from the
// current deterioration stage.
type Status string

const (
	StatusStable     Status = "stable"
	StatusConcerning Status = "concerning"
	StatusCritical   Status = "critical"
	StatusCollapsed  Status = "collapsed"
	StatusResolved   Status = "resolved"
)

// FetalStatus is the CTG classification of the fetus.
type FetalStatus string

const (
	FetalReassuring    FetalStatus = "reassuring"
	FetalNonReassuring FetalStatus = "non_reassuring"
	FetalPathological  FetalStatus = "pathological"
	FetalIUD           FetalStatus = "iud"
)

// VitalsSnapshot is one observation set. The lab analytes (glucose, ketones,
// pH, bicarb) are nil until an investigation reveals them; once revealed they
// must never silently revert to nil.
type VitalsSnapshot struct {
	HR          float64  `json:"hr"`
	BPSystolic  float64  `json:"bp_systolic"`
	BPDiastolic float64  `json:"bp_diastolic"`
	RR          float64  `json:"rr"`
	SpO2        float64  `json:"spo2"`
	Temp        float64  `json:"temp"`
	GCS         float64  `json:"gcs"`
	Glucose     *float64 `json:"glucose,omitempty"`
	Ketones     *float64 `json:"ketones,omitempty"`
	PH          *float64 `json:"ph,omitempty"`
	Bicarb      *float64 `json:"bicarb,omitempty"`
}

// PrescriptionType discriminates the quantitative order kinds.
type PrescriptionType string

const (
	PrescriptionFluids    PrescriptionType = "iv_fluids"
	PrescriptionInsulin   PrescriptionType = "insulin"
	PrescriptionPotassium PrescriptionType = "potassium"
)

// Prescription is a quantitative treatment order attached to an action
// submission. Only the field matching Type is meaningful.
type Prescription struct {
	Type              PrescriptionType `json:"type"`
	DurationMinutes   float64          `json:"duration_minutes,omitempty"`
	RateMlPerHr       float64          `json:"rate_ml_per_hr,omitempty"`
	ConcentrationMmol float64          `json:"concentration_mmol,omitempty"`
}

// InterventionType tags a lasting modifier on stage progression.
type InterventionType string

const (
	InterventionHalt    InterventionType = "halt"
	InterventionSlow    InterventionType = "slow"
	InterventionReverse InterventionType = "reverse"
)

// InterventionEffect is appended to a patient when a treatment or escalation
// takes clinical effect. Effects never expire within a session.
type InterventionEffect struct {
	Type        InterventionType `json:"type"`
	AppliedAtMs int64            `json:"applied_at_ms"`
	SlowFactor  float64          `json:"slow_factor,omitempty"`
}

// PendingAction is a submitted-but-not-yet-resulted action awaiting its
// completion delay on the simulated clock.
type PendingAction struct {
	ActionKey     string        `json:"action_key"`
	SubmittedAtMs int64         `json:"submitted_at_ms"`
	CompletesAtMs int64         `json:"completes_at_ms"`
	UserID        uuid.UUID     `json:"user_id"`
	Prescription  *Prescription `json:"prescription,omitempty"`
}

// Patient is one simulated patient owned by a session.
type Patient struct {
	ID                  uuid.UUID `json:"id"`
	SessionID           uuid.UUID `json:"session_id"`
	ScenarioPatientKey  string    `json:"scenario_patient_key"`
	Name                string    `json:"name"`
	Age                 int       `json:"age"`
	Height              float64   `json:"height"`
	Weight              float64   `json:"weight"`
	Gestation           string    `json:"gestation"`
	Parity              string    `json:"parity"`
	PresentingComplaint string    `json:"presenting_complaint"`
	History             string    `json:"history"`
	PMH                 string    `json:"pmh"`
	Allergies           string    `json:"allergies"`

	Status              Status               `json:"status"`
	CurrentVitals       VitalsSnapshot       `json:"current_vitals"`
	CTGSummary          string               `json:"ctg_summary"`
	IsAlive             bool                 `json:"is_alive"`
	FetalStatus         FetalStatus          `json:"fetal_status"`
	IsDKA               bool                 `json:"is_dka"`
	LastKnownPotassium  *float64             `json:"last_known_potassium,omitempty"`
	DeteriorationType   string               `json:"deterioration_type"`
	CurrentStageIndex   int                  `json:"current_stage_index"`
	StageEnteredAtMs    int64                `json:"stage_entered_at_ms"`
	AvailableActions    []string             `json:"available_actions"`
	CompletedActions    []string             `json:"completed_actions"`
	PendingActions      []PendingAction      `json:"pending_actions"`
	InterventionEffects []InterventionEffect `json:"intervention_effects"`
	ArrivedAtMs         int64                `json:"arrived_at_ms"`
	HasArrived          bool                 `json:"has_arrived"`
}

// HasCompleted reports whether the action key is in the completed list.
func (p *Patient) HasCompleted(actionKey string) bool {
	for _, k := range p.CompletedActions {
		if k == actionKey {
			return true
		}
	}
	return false
}

// HasPending reports whether the action key is currently pending.
func (p *Patient) HasPending(actionKey string) bool {
	for _, pa := range p.PendingActions {
		if pa.ActionKey == actionKey {
			return true
		}
	}
	return false
}

// IsHalted reports whether any halt effect has been applied.
func (p *Patient) IsHalted() bool {
	for _, e := range p.InterventionEffects {
		if e.Type == InterventionHalt {
			return true
		}
	}
	return false
}

// SlowFactor returns the product of all slow-effect factors. Two 2.0x slows
// yield 4.0x.
func (p *Patient) SlowFactor() float64 {
	factor := 1.0
	for _, e := range p.InterventionEffects {
		if e.Type == InterventionSlow && e.SlowFactor > 0 {
			factor *= e.SlowFactor
		}
	}
	return factor
}

// Clone returns a deep copy so engine functions can work on a snapshot and
// return it for the orchestrator to commit.
func (p *Patient) Clone() *Patient {
	cp := *p
	cp.CurrentVitals = cloneVitals(p.CurrentVitals)
	if p.LastKnownPotassium != nil {
		v := *p.LastKnownPotassium
		cp.LastKnownPotassium = &v
	}
	cp.AvailableActions = append([]string(nil), p.AvailableActions...)
	cp.CompletedActions = append([]string(nil), p.CompletedActions...)
	cp.PendingActions = append([]PendingAction(nil), p.PendingActions...)
	cp.InterventionEffects = append([]InterventionEffect(nil), p.InterventionEffects...)
	return &cp
}

func cloneVitals(v VitalsSnapshot) VitalsSnapshot {
	cp := v
	cp.Glucose = clonePtr(v.Glucose)
	cp.Ketones = clonePtr(v.Ketones)
	cp.PH = clonePtr(v.PH)
	cp.Bicarb = clonePtr(v.Bicarb)
	return cp
}

func clonePtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
