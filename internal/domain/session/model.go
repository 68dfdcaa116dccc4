// Package session owns the multiplayer bookkeeping around a running
// simulation: the session record itself, joined users, the shared unit
// resource state, and the append-only event log that scoring and the debrief
// consume.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusLobby   Status = "lobby"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

// Role distinguishes the facilitator from participants.
type Role string

const (
	RoleFacilitator Role = "facilitator"
	RoleParticipant Role = "participant"
)

// Session is one training session. SimClockMs is the session-local simulated
// time axis, advanced only by the tick runner.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	Code           string     `json:"code"`
	ScenarioID     string     `json:"scenario_id"`
	ConfigID       uuid.UUID  `json:"config_id"`
	Status         Status     `json:"status"`
	SimClockMs     int64      `json:"sim_clock_ms"`
	SpeedFactor    float64    `json:"speed_factor"`
	FacilitatorPIN string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// User is a connected facilitator or participant.
type User struct {
	ID                uuid.UUID  `json:"id"`
	SessionID         uuid.UUID  `json:"session_id"`
	Name              string     `json:"name"`
	Role              Role       `json:"role"`
	ClientID          string     `json:"client_id,omitempty"`
	AssignedPatientID *uuid.UUID `json:"assigned_patient_id,omitempty"`
	JoinedAt          time.Time  `json:"joined_at"`
}

// ResourceState is the per-session availability of shared unit resources.
// Investigations gate on it and lab delays scale with the multiplier.
type ResourceState struct {
	KetometerAvailable bool    `json:"ketometer_available"`
	LabsAvailable      bool    `json:"labs_available"`
	StaffAvailable     bool    `json:"staff_available"`
	LabDelayMultiplier float64 `json:"lab_delay_multiplier"`
}

// EventType classifies event log entries.
type EventType string

const (
	EventAction        EventType = "action"
	EventResult        EventType = "result"
	EventDeterioration EventType = "deterioration"
	EventInjection     EventType = "injection"
	EventSystem        EventType = "system"
)

// EventLogEntry is one immutable entry in the session audit trail. Insertion
// order is the canonical ordering.
type EventLogEntry struct {
	ID        uuid.UUID              `json:"id"`
	SessionID uuid.UUID              `json:"session_id"`
	PatientID *uuid.UUID             `json:"patient_id,omitempty"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	UserName  string                 `json:"user_name,omitempty"`
	SimTimeMs int64                  `json:"sim_time_ms"`
	Type      EventType              `json:"type"`
	Category  string                 `json:"category,omitempty"`
	Detail    map[string]interface{} `json:"detail"`
	CreatedAt time.Time              `json:"created_at"`
}
