package engine

import (
	"github.com/google/uuid"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/session"
)

// Event is one outbound real-time notification. The set of kinds is closed;
// each kind carries a typed payload. The transport layer decides how to fan
// events out to connected clients.
type Event interface {
	Kind() string
}

// ClockTick is emitted once per tick after the simulated clock advances.
type ClockTick struct {
	SimClockMs int64 `json:"sim_clock_ms"`
}

func (ClockTick) Kind() string { return "clock:tick" }

// PatientArrived is emitted when a delayed patient crosses its arrival time.
type PatientArrived struct {
	Patient *patient.Patient `json:"patient"`
}

func (PatientArrived) Kind() string { return "patient:arrived" }

// VitalsUpdated carries the patient's post-tick observations.
type VitalsUpdated struct {
	PatientID   uuid.UUID              `json:"patient_id"`
	Vitals      patient.VitalsSnapshot `json:"vitals"`
	Status      patient.Status         `json:"status"`
	FetalStatus patient.FetalStatus    `json:"fetal_status"`
	CTGSummary  string                 `json:"ctg_summary"`
}

func (VitalsUpdated) Kind() string { return "patient:vitals_update" }

// StatusChanged is emitted on a stage-driven status transition.
type StatusChanged struct {
	PatientID uuid.UUID      `json:"patient_id"`
	OldStatus patient.Status `json:"old_status"`
	NewStatus patient.Status `json:"new_status"`
}

func (StatusChanged) Kind() string { return "patient:status_change" }

// ActionPending acknowledges a submitted action and its effective delay.
type ActionPending struct {
	PatientID uuid.UUID `json:"patient_id"`
	ActionKey string    `json:"action_key"`
	DelayMs   int64     `json:"delay_ms"`
}

func (ActionPending) Kind() string { return "action:pending" }

// ActionResulted carries a completed action's generated result.
type ActionResulted struct {
	PatientID uuid.UUID    `json:"patient_id"`
	ActionKey string       `json:"action_key"`
	Result    ActionResult `json:"result"`
}

func (ActionResulted) Kind() string { return "action:result" }

// EventLogged mirrors an event-log append for live log views.
type EventLogged struct {
	Event *session.EventLogEntry `json:"event"`
}

func (EventLogged) Kind() string { return "event:logged" }

// ResourceChanged is emitted when a shared resource toggles availability.
type ResourceChanged struct {
	Resource  string `json:"resource"`
	Available bool   `json:"available"`
}

func (ResourceChanged) Kind() string { return "resource:changed" }

// AlertFired is a banner-level notification.
type AlertFired struct {
	PatientID string `json:"patient_id"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
}

func (AlertFired) Kind() string { return "alert:fire" }

// SessionStarted is emitted on start and resume.
type SessionStarted struct {
	SimClockMs int64 `json:"sim_clock_ms"`
}

func (SessionStarted) Kind() string { return "session:started" }

// SessionPaused is emitted when the facilitator pauses the clock.
type SessionPaused struct {
	SimClockMs int64 `json:"sim_clock_ms"`
}

func (SessionPaused) Kind() string { return "session:paused" }

// SessionEnded carries the final debrief.
type SessionEnded struct {
	Debrief *DebriefData `json:"debrief"`
}

func (SessionEnded) Kind() string { return "session:ended" }

// Publisher dispatches engine events to the transport. Implementations must
// not block the tick; slow consumers are the transport's problem.
type Publisher interface {
	Publish(sessionID uuid.UUID, event Event)
}

// NopPublisher discards events; used in tests and batch scoring.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(uuid.UUID, Event) {}
