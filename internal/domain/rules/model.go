// Package rules holds the versioned clinical protocol configuration and the
// scenario definitions loaded from JSON at startup. Both are treated as
// immutable for the lifetime of a session.
package rules

import (
	"time"

	"github.com/google/uuid"

	"github.com/wardsim/wardsim/internal/domain/patient"
)

// ActionCategory groups catalog actions for delay scaling and display.
type ActionCategory string

const (
	CategoryInvestigation ActionCategory = "investigation"
	CategoryEscalation    ActionCategory = "escalation"
	CategoryTreatment     ActionCategory = "treatment"
	CategoryMonitoring    ActionCategory = "monitoring"
)

// ActionDefinition is one entry in the action catalog.
type ActionDefinition struct {
	Key                  string                   `json:"key"`
	Label                string                   `json:"label"`
	Description          string                   `json:"description"`
	Category             ActionCategory           `json:"category"`
	DelayMs              int64                    `json:"delay_ms"`
	Prerequisites        []string                 `json:"prerequisites"`
	Icon                 string                   `json:"icon"`
	RequiresPrescription bool                     `json:"requires_prescription,omitempty"`
	PrescriptionType     patient.PrescriptionType `json:"prescription_type,omitempty"`
}

// DeteriorationStage is one segment of a deterioration curve: a target vitals
// snapshot reached over the stage duration.
type DeteriorationStage struct {
	Name        string                 `json:"name"`
	DurationMs  int64                  `json:"duration_ms"`
	Vitals      patient.VitalsSnapshot `json:"vitals"`
	CTGSummary  string                 `json:"ctg_summary"`
	FetalStatus patient.FetalStatus    `json:"fetal_status"`
}

// DeteriorationCurve is an ordered, non-empty stage chain.
type DeteriorationCurve struct {
	Stages []DeteriorationStage `json:"stages"`
}

// DKATriggers are the diagnostic thresholds for the hidden DKA case.
type DKATriggers struct {
	GlucoseThreshold float64 `json:"glucose_threshold"`
	KetoneThreshold  float64 `json:"ketone_threshold"`
	PHThreshold      float64 `json:"ph_threshold"`
	BicarbThreshold  float64 `json:"bicarb_threshold"`
}

// FluidProtocol holds the first-bag fluid resuscitation constants.
type FluidProtocol struct {
	FirstBagVolume          float64 `json:"first_bag_volume"`
	FirstBagDurationMinutes float64 `json:"first_bag_duration_minutes"`
	SBPShockedThreshold     float64 `json:"sbp_shocked_threshold"`
	SubsequentRate          float64 `json:"subsequent_rate"`
}

// InsulinProtocol holds the fixed-rate insulin infusion constants.
type InsulinProtocol struct {
	StartAfterFluids  bool    `json:"start_after_fluids"`
	RateUnitsPerKgHr  float64 `json:"rate_units_per_kg_per_hr"`
	MaxRateMlPerHr    float64 `json:"max_rate_ml_per_hr"`
}

// PotassiumProtocol holds the serum potassium replacement bands.
type PotassiumProtocol struct {
	CheckBeforeInsulin bool    `json:"check_before_insulin"`
	LowThreshold       float64 `json:"low_threshold"`
	HighThreshold      float64 `json:"high_threshold"`
}

// Treatment groups the protocol constants.
type Treatment struct {
	FluidProtocol     FluidProtocol     `json:"fluid_protocol"`
	InsulinProtocol   InsulinProtocol   `json:"insulin_protocol"`
	PotassiumProtocol PotassiumProtocol `json:"potassium_protocol"`
}

// Escalation holds escalation policy constants.
type Escalation struct {
	NEWSScoreThreshold int    `json:"news_score_threshold"`
	AutoEscalateAt     string `json:"auto_escalate_at"`
}

// Scoring holds the debrief scoring weights: target times and maximum points
// per dimension.
type Scoring struct {
	RecognitionTargetMs int64 `json:"recognition_target_ms"`
	EscalationTargetMs  int64 `json:"escalation_target_ms"`
	TreatmentTargetMs   int64 `json:"treatment_target_ms"`
	RecognitionMaxScore int   `json:"recognition_max_score"`
	EscalationMaxScore  int   `json:"escalation_max_score"`
	TreatmentMaxScore   int   `json:"treatment_max_score"`
	OutcomeMaxScore     int   `json:"outcome_max_score"`
	ActionsMaxScore     int   `json:"actions_max_score"`
}

// Resources holds the default unit resource availability.
type Resources struct {
	KetometerAvailable              bool    `json:"ketometer_available"`
	KetometerUnavailableProbability float64 `json:"ketometer_unavailable_probability"`
	LabDelayMs                      int64   `json:"lab_delay_ms"`
	StaffBusyProbability            float64 `json:"staff_busy_probability"`
}

// ClinicalRulesConfig is the versioned protocol definition: dose thresholds,
// deterioration curves, scoring weights, action catalog.
type ClinicalRulesConfig struct {
	Version             int                           `json:"version"`
	DKATriggers         DKATriggers                   `json:"dka_triggers"`
	Investigations      []ActionDefinition            `json:"investigations"`
	Escalation          Escalation                    `json:"escalation"`
	Treatment           Treatment                     `json:"treatment"`
	DeteriorationCurves map[string]DeteriorationCurve `json:"deterioration_curves"`
	Scoring             Scoring                       `json:"scoring"`
	Resources           Resources                     `json:"resources"`
}

// ActionDef looks up an action definition by key.
func (c *ClinicalRulesConfig) ActionDef(key string) *ActionDefinition {
	for i := range c.Investigations {
		if c.Investigations[i].Key == key {
			return &c.Investigations[i]
		}
	}
	return nil
}

// ConfigVersion wraps a ClinicalRulesConfig with version metadata.
type ConfigVersion struct {
	ID        uuid.UUID           `json:"id"`
	Version   int                 `json:"version"`
	Label     string              `json:"label"`
	Config    ClinicalRulesConfig `json:"config"`
	CreatedAt time.Time           `json:"created_at"`
	CreatedBy string              `json:"created_by"`
}

// ScenarioPatientDef is one patient definition within a scenario.
type ScenarioPatientDef struct {
	Key                 string                 `json:"key"`
	Name                string                 `json:"name"`
	Age                 int                    `json:"age"`
	Height              float64                `json:"height"`
	Weight              float64                `json:"weight"`
	Gestation           string                 `json:"gestation"`
	Parity              string                 `json:"parity"`
	PresentingComplaint string                 `json:"presenting_complaint"`
	History             string                 `json:"history"`
	PMH                 string                 `json:"pmh"`
	Allergies           string                 `json:"allergies"`
	InitialVitals       patient.VitalsSnapshot `json:"initial_vitals"`
	InitialCTG          string                 `json:"initial_ctg"`
	DeteriorationType   string                 `json:"deterioration_type"`
	IsDKA               bool                   `json:"is_dka"`
	AvailableActions    []string               `json:"available_actions"`
	ArrivalDelayMs      int64                  `json:"arrival_delay_ms"`
}

// TimedEventType enumerates scenario-authored injections.
type TimedEventType string

const (
	TimedResourceChange TimedEventType = "resource_change"
	TimedStaffChange    TimedEventType = "staff_change"
	TimedMessage        TimedEventType = "message"
)

// ScenarioTimedEvent fires exactly once when the simulated clock crosses its
// trigger offset.
type ScenarioTimedEvent struct {
	TriggerAtMs int64                  `json:"trigger_at_ms"`
	Type        TimedEventType         `json:"type"`
	Payload     map[string]interface{} `json:"payload"`
}

// ScenarioDefinition is one training scenario loaded at startup.
type ScenarioDefinition struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	Briefing        string               `json:"briefing"`
	DurationMinutes int                  `json:"duration_minutes"`
	Patients        []ScenarioPatientDef `json:"patients"`
	TimedEvents     []ScenarioTimedEvent `json:"timed_events"`
}

// DurationMs returns the scenario duration on the simulated clock.
func (s *ScenarioDefinition) DurationMs() int64 {
	return int64(s.DurationMinutes) * 60 * 1000
}
