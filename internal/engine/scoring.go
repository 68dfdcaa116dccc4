package engine

import (
	"math"

	"github.com/google/uuid"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
	"github.com/wardsim/wardsim/internal/domain/session"
)

// ScoredAction is one completed action in the debrief, marked for whether it
// belonged to the expected workup for that patient.
type ScoredAction struct {
	ActionKey      string `json:"action_key"`
	Label          string `json:"label"`
	SimTimeMs      int64  `json:"sim_time_ms"`
	WasAppropriate bool   `json:"was_appropriate"`
	Points         int    `json:"points"`
}

// ParticipantScore is one participant's debrief breakdown.
type ParticipantScore struct {
	UserID             uuid.UUID      `json:"user_id"`
	UserName           string         `json:"user_name"`
	PatientID          uuid.UUID      `json:"patient_id"`
	PatientName        string         `json:"patient_name"`
	PatientOutcome     int            `json:"patient_outcome"`
	TimeToRecognition  int            `json:"time_to_recognition"`
	TimeToEscalation   int            `json:"time_to_escalation"`
	TimeToTreatment    int            `json:"time_to_treatment"`
	AppropriateActions int            `json:"appropriate_actions"`
	Total              int            `json:"total"`
	Actions            []ScoredAction `json:"actions"`
}

// DebriefData is the full post-session report.
type DebriefData struct {
	Session   *session.Session        `json:"session"`
	Scores    []ParticipantScore      `json:"scores"`
	Events    []*session.EventLogEntry `json:"events"`
	Patients  []*patient.Patient      `json:"patients"`
	TeamScore int                     `json:"team_score"`
}

// Expected workups per patient presentation. Anything outside the set scores
// zero but is still listed in the debrief.
var (
	appropriateActionsDKA = []string{
		"check_glucose",
		"check_ketones",
		"request_abg",
		"escalate_registrar",
		"start_iv_fluids",
		"start_insulin",
		"continuous_ctg",
		"maternal_observations",
		"check_potassium",
	}
	appropriateActionsPVB = []string{
		"fbc",
		"group_and_save",
		"continuous_ctg",
		"maternal_observations",
		"escalate_registrar",
	}
	appropriateActionsRFM = []string{
		"continuous_ctg",
		"maternal_observations",
	}
)

// timeScore awards full marks at or before the target and decays linearly to
// zero at three times the target. A never-taken action scores zero.
func timeScore(actionTimeMs *int64, targetMs int64, maxScore int) int {
	if actionTimeMs == nil {
		return 0
	}
	t := *actionTimeMs
	if t <= targetMs {
		return maxScore
	}
	grace := targetMs * 3
	if t >= grace {
		return 0
	}
	ratio := 1 - float64(t-targetMs)/float64(grace-targetMs)
	return int(math.Round(ratio * float64(maxScore)))
}

// outcomeScore steps on the patient's final status. A collapsed patient with
// fetal demise scores zero.
func outcomeScore(p *patient.Patient, maxScore int) int {
	switch p.Status {
	case patient.StatusStable, patient.StatusResolved:
		return maxScore
	case patient.StatusConcerning:
		return int(math.Round(float64(maxScore) * 0.7))
	case patient.StatusCritical:
		return int(math.Round(float64(maxScore) * 0.3))
	case patient.StatusCollapsed:
		if p.FetalStatus == patient.FetalIUD {
			return 0
		}
		return int(math.Round(float64(maxScore) * 0.1))
	default:
		return 0
	}
}

func firstEventTime(events []*session.EventLogEntry, patientID uuid.UUID, pred func(*session.EventLogEntry) bool) *int64 {
	for _, e := range events {
		if e.PatientID != nil && *e.PatientID == patientID && pred(e) {
			t := e.SimTimeMs
			return &t
		}
	}
	return nil
}

func detailFlag(e *session.EventLogEntry, key string) bool {
	v, ok := e.Detail[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func detailActionKey(e *session.EventLogEntry) string {
	v, ok := e.Detail["action_key"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ScoreParticipant scores one participant against their assigned patient.
// Timing dimensions only bite for the hidden DKA case; the distractor
// patients earn full timing marks so the comparison stays on workup quality
// and outcome.
func ScoreParticipant(u *session.User, p *patient.Patient, events []*session.EventLogEntry, cfg *rules.ClinicalRulesConfig) ParticipantScore {
	scoring := cfg.Scoring

	recognitionTime := firstEventTime(events, p.ID, func(e *session.EventLogEntry) bool {
		if e.Type != session.EventResult {
			return false
		}
		k := detailActionKey(e)
		return k == "check_glucose" || k == "check_ketones"
	})
	escalationTime := firstEventTime(events, p.ID, func(e *session.EventLogEntry) bool {
		return e.Type == session.EventResult && detailFlag(e, "is_escalation_event")
	})
	treatmentTime := firstEventTime(events, p.ID, func(e *session.EventLogEntry) bool {
		return e.Type == session.EventResult && detailFlag(e, "is_treatment_event")
	})

	var appropriateSet []string
	switch {
	case p.IsDKA:
		appropriateSet = appropriateActionsDKA
	case p.ScenarioPatientKey == "pvb_patient":
		appropriateSet = appropriateActionsPVB
	default:
		appropriateSet = appropriateActionsRFM
	}
	inSet := make(map[string]bool, len(appropriateSet))
	for _, k := range appropriateSet {
		inSet[k] = true
	}

	var scored []ScoredAction
	appropriateCount := 0
	for _, key := range p.CompletedActions {
		appropriate := inSet[key]
		if appropriate {
			appropriateCount++
		}
		label := key
		if def := cfg.ActionDef(key); def != nil {
			label = def.Label
		}
		var simTime int64
		if t := firstEventTime(events, p.ID, func(e *session.EventLogEntry) bool {
			return e.Type == session.EventAction && detailActionKey(e) == key
		}); t != nil {
			simTime = *t
		}
		points := 0
		if appropriate {
			points = 1
		}
		scored = append(scored, ScoredAction{
			ActionKey:      key,
			Label:          label,
			SimTimeMs:      simTime,
			WasAppropriate: appropriate,
			Points:         points,
		})
	}

	denom := len(appropriateSet)
	if denom < 1 {
		denom = 1
	}
	appropriateScore := int(math.Round(float64(appropriateCount) / float64(denom) * float64(scoring.ActionsMaxScore)))

	recognitionScore := scoring.RecognitionMaxScore
	escalationScore := scoring.EscalationMaxScore
	treatmentScore := scoring.TreatmentMaxScore
	if p.IsDKA {
		recognitionScore = timeScore(recognitionTime, scoring.RecognitionTargetMs, scoring.RecognitionMaxScore)
		escalationScore = timeScore(escalationTime, scoring.EscalationTargetMs, scoring.EscalationMaxScore)
		treatmentScore = timeScore(treatmentTime, scoring.TreatmentTargetMs, scoring.TreatmentMaxScore)
	}
	outcome := outcomeScore(p, scoring.OutcomeMaxScore)

	return ParticipantScore{
		UserID:             u.ID,
		UserName:           u.Name,
		PatientID:          p.ID,
		PatientName:        p.Name,
		PatientOutcome:     outcome,
		TimeToRecognition:  recognitionScore,
		TimeToEscalation:   escalationScore,
		TimeToTreatment:    treatmentScore,
		AppropriateActions: appropriateScore,
		Total:              outcome + recognitionScore + escalationScore + treatmentScore + appropriateScore,
		Actions:            scored,
	}
}

// ScoreSession scores every participant with an assigned patient and returns
// the rounded mean as the team score, zero when nobody scored.
func ScoreSession(users []*session.User, patients []*patient.Patient, events []*session.EventLogEntry, cfg *rules.ClinicalRulesConfig) ([]ParticipantScore, int) {
	byID := make(map[uuid.UUID]*patient.Patient, len(patients))
	for _, p := range patients {
		byID[p.ID] = p
	}

	var scores []ParticipantScore
	for _, u := range users {
		if u.Role != session.RoleParticipant || u.AssignedPatientID == nil {
			continue
		}
		p, ok := byID[*u.AssignedPatientID]
		if !ok {
			continue
		}
		scores = append(scores, ScoreParticipant(u, p, events, cfg))
	}

	if len(scores) == 0 {
		return scores, 0
	}
	sum := 0
	for _, s := range scores {
		sum += s.Total
	}
	return scores, int(math.Round(float64(sum) / float64(len(scores))))
}
