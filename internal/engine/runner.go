package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
	"github.com/wardsim/wardsim/internal/domain/session"
)

// TickIntervalMs is how much simulated time one tick covers at speed 1.0.
const TickIntervalMs = 1000

// DefaultTickInterval is the wall-clock spacing between ticks.
const DefaultTickInterval = time.Second

// Stores bundles the repositories the runner reads and writes.
type Stores struct {
	Sessions  session.Repository
	Users     session.UserRepository
	Events    session.EventRepository
	Resources session.ResourceRepository
	Patients  patient.Repository
	Configs   rules.ConfigRepository
	Scenarios rules.ScenarioRepository
}

// Runner drives running sessions: it owns the per-session tick loop and is
// the single writer for simulation state. Every tick and every submission for
// a session holds that session's mutex, so engine functions can work on
// snapshots and commit without racing each other.
type Runner struct {
	stores Stores
	pub    Publisher
	sched  Scheduler
	rng    Rand
	log    zerolog.Logger

	interval time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewRunner wires a runner. The injected Rand and Scheduler keep ticks
// deterministic and controllable under test.
func NewRunner(stores Stores, pub Publisher, sched Scheduler, rng Rand, log zerolog.Logger) *Runner {
	return &Runner{
		stores:   stores,
		pub:      pub,
		sched:    sched,
		rng:      rng,
		log:      log,
		interval: DefaultTickInterval,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetTickInterval overrides the wall-clock tick spacing. Call before any
// session starts; running schedules keep their original interval.
func (r *Runner) SetTickInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

func (r *Runner) sessionLock(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// InitializeSession creates the session's patients from the scenario and
// seeds resource availability from the config defaults.
func (r *Runner) InitializeSession(ctx context.Context, sess *session.Session, scenario *rules.ScenarioDefinition, cfg *rules.ClinicalRulesConfig) ([]*patient.Patient, error) {
	var patients []*patient.Patient
	for _, def := range scenario.Patients {
		p := &patient.Patient{
			SessionID:           sess.ID,
			ScenarioPatientKey:  def.Key,
			Name:                def.Name,
			Age:                 def.Age,
			Height:              def.Height,
			Weight:              def.Weight,
			Gestation:           def.Gestation,
			Parity:              def.Parity,
			PresentingComplaint: def.PresentingComplaint,
			History:             def.History,
			PMH:                 def.PMH,
			Allergies:           def.Allergies,
			Status:              patient.StatusStable,
			CurrentVitals:       def.InitialVitals,
			CTGSummary:          def.InitialCTG,
			IsAlive:             true,
			FetalStatus:         patient.FetalReassuring,
			IsDKA:               def.IsDKA,
			DeteriorationType:   def.DeteriorationType,
			AvailableActions:    append([]string(nil), def.AvailableActions...),
			CompletedActions:    []string{},
			PendingActions:      []patient.PendingAction{},
			InterventionEffects: []patient.InterventionEffect{},
			ArrivedAtMs:         def.ArrivalDelayMs,
			HasArrived:          def.ArrivalDelayMs == 0,
		}
		if err := r.stores.Patients.Create(ctx, p); err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}

	state := session.ResourceState{
		KetometerAvailable: cfg.Resources.KetometerAvailable,
		LabsAvailable:      true,
		StaffAvailable:     true,
		LabDelayMultiplier: 1.0,
	}
	if err := r.stores.Resources.Set(ctx, sess.ID, state); err != nil {
		return nil, err
	}
	return patients, nil
}

// Start marks the session running and begins ticking. Starting an already
// running session is a no-op.
func (r *Runner) Start(ctx context.Context, sessionID uuid.UUID) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if r.sched.Running(sessionID) {
		return nil
	}
	sess.Status = session.StatusRunning
	if err := r.stores.Sessions.Update(ctx, sess); err != nil {
		return err
	}

	r.sched.Start(sessionID, r.interval, func() {
		if err := r.Tick(context.Background(), sessionID); err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("tick skipped")
		}
	})
	r.pub.Publish(sessionID, SessionStarted{SimClockMs: sess.SimClockMs})
	return nil
}

// Pause stops the tick loop and freezes the simulated clock in place.
func (r *Runner) Pause(ctx context.Context, sessionID uuid.UUID) error {
	r.sched.Stop(sessionID)

	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = session.StatusPaused
	if err := r.stores.Sessions.Update(ctx, sess); err != nil {
		return err
	}
	r.pub.Publish(sessionID, SessionPaused{SimClockMs: sess.SimClockMs})
	return nil
}

// Resume restarts the tick loop from the frozen clock.
func (r *Runner) Resume(ctx context.Context, sessionID uuid.UUID) error {
	return r.Start(ctx, sessionID)
}

// End stops the session, scores every participant and returns the debrief.
// Ending an already ended session rescores harmlessly; a missing session or
// config yields an error and no debrief.
func (r *Runner) End(ctx context.Context, sessionID uuid.UUID) (*DebriefData, error) {
	r.sched.Stop(sessionID)

	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return r.endLocked(ctx, sessionID)
}

func (r *Runner) endLocked(ctx context.Context, sessionID uuid.UUID) (*DebriefData, error) {
	sess, err := r.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Status = session.StatusEnded
	now := time.Now()
	sess.EndedAt = &now
	if err := r.stores.Sessions.Update(ctx, sess); err != nil {
		return nil, err
	}

	users, err := r.stores.Users.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	patients, err := r.stores.Patients.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := r.stores.Events.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cv, err := r.stores.Configs.GetByID(ctx, sess.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("clinical config missing: %w", err)
	}

	scores, teamScore := ScoreSession(users, patients, events, &cv.Config)
	return &DebriefData{
		Session:   sess,
		Scores:    scores,
		Events:    events,
		Patients:  patients,
		TeamScore: teamScore,
	}, nil
}

// Tick advances one session by one tick: clock, arrivals, deterioration,
// action completions, scenario timed events, auto-end. It is safe to call
// concurrently with submissions; the per-session mutex serialises them.
func (r *Runner) Tick(ctx context.Context, sessionID uuid.UUID) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusRunning {
		return nil
	}
	cv, err := r.stores.Configs.GetByID(ctx, sess.ConfigID)
	if err != nil {
		return fmt.Errorf("clinical config missing: %w", err)
	}
	cfg := &cv.Config

	prevClock := sess.SimClockMs
	newClock := prevClock + int64(float64(TickIntervalMs)*sess.SpeedFactor)
	sess.SimClockMs = newClock
	if err := r.stores.Sessions.Update(ctx, sess); err != nil {
		return err
	}
	r.pub.Publish(sessionID, ClockTick{SimClockMs: newClock})

	patients, err := r.stores.Patients.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, p := range patients {
		if !p.HasArrived && newClock >= p.ArrivedAtMs {
			arrived := p.Clone()
			arrived.HasArrived = true
			arrived.StageEnteredAtMs = newClock
			if err := r.stores.Patients.Update(ctx, arrived); err != nil {
				return err
			}
			r.pub.Publish(sessionID, PatientArrived{Patient: arrived})
			r.logEvent(ctx, sessionID, &session.EventLogEntry{
				SessionID: sessionID,
				PatientID: &p.ID,
				SimTimeMs: newClock,
				Type:      session.EventSystem,
				Category:  "arrival",
				Detail:    map[string]interface{}{"message": fmt.Sprintf("%s has arrived on Delivery Suite.", p.Name)},
			})
		}
	}

	// Re-read so arrivals above are visible this tick.
	patients, err = r.stores.Patients.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, p := range patients {
		if !p.HasArrived {
			continue
		}
		snap := p.Clone()

		detResult := TickDeterioration(snap, newClock, cfg, r.rng)
		completions := ProcessCompletedActions(snap, newClock, cfg, r.rng)

		if err := r.stores.Patients.Update(ctx, snap); err != nil {
			return err
		}

		if detResult.VitalsChanged {
			r.pub.Publish(sessionID, VitalsUpdated{
				PatientID:   snap.ID,
				Vitals:      snap.CurrentVitals,
				Status:      snap.Status,
				FetalStatus: snap.FetalStatus,
				CTGSummary:  snap.CTGSummary,
			})
		}
		if detResult.StatusChanged {
			r.pub.Publish(sessionID, StatusChanged{
				PatientID: snap.ID,
				OldStatus: detResult.OldStatus,
				NewStatus: detResult.NewStatus,
			})
			r.logEvent(ctx, sessionID, &session.EventLogEntry{
				SessionID: sessionID,
				PatientID: &snap.ID,
				SimTimeMs: newClock,
				Type:      session.EventDeterioration,
				Category:  "status_change",
				Detail: map[string]interface{}{
					"message":    fmt.Sprintf("%s: %s → %s", snap.Name, detResult.OldStatus, detResult.NewStatus),
					"old_status": string(detResult.OldStatus),
					"new_status": string(detResult.NewStatus),
				},
			})
			r.pub.Publish(sessionID, AlertFired{
				PatientID: snap.ID.String(),
				Message:   fmt.Sprintf("%s is now %s", snap.Name, detResult.NewStatus),
				Severity:  alertSeverity(detResult.NewStatus),
			})
		}

		for _, ca := range completions {
			r.pub.Publish(sessionID, ActionResulted{
				PatientID: snap.ID,
				ActionKey: ca.ActionKey,
				Result:    ca.Result,
			})
			detail := ca.Result.ToDetail()
			detail["action_key"] = ca.ActionKey
			r.logEvent(ctx, sessionID, &session.EventLogEntry{
				SessionID: sessionID,
				PatientID: &snap.ID,
				SimTimeMs: newClock,
				Type:      session.EventResult,
				Category:  "action_result",
				Detail:    detail,
			})
		}
	}

	scenario, err := r.stores.Scenarios.GetByID(ctx, sess.ScenarioID)
	if err == nil {
		for _, te := range scenario.TimedEvents {
			if prevClock < te.TriggerAtMs && newClock >= te.TriggerAtMs {
				r.handleTimedEvent(ctx, sessionID, te, newClock)
			}
		}
		if newClock >= scenario.DurationMs() {
			debrief, err := r.endLocked(ctx, sessionID)
			if err != nil {
				return err
			}
			r.sched.Stop(sessionID)
			r.pub.Publish(sessionID, SessionEnded{Debrief: debrief})
		}
	}

	return nil
}

// SubmitAction validates, grades and queues one participant action. The
// action-ordered log entry is written here; the result entry arrives with the
// completing tick.
func (r *Runner) SubmitAction(ctx context.Context, patientID uuid.UUID, actionKey string, userID uuid.UUID, rx *patient.Prescription) (*Submission, error) {
	p, err := r.stores.Patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("patient not found")
	}

	lock := r.sessionLock(p.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.stores.Sessions.GetByID(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusRunning {
		return nil, fmt.Errorf("simulation is not running")
	}
	cv, err := r.stores.Configs.GetByID(ctx, sess.ConfigID)
	if err != nil {
		return nil, err
	}
	res, err := r.stores.Resources.Get(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	snap := p.Clone()
	sub, err := SubmitAction(snap, actionKey, userID, sess.SimClockMs, &cv.Config, res, rx)
	if err != nil {
		return nil, err
	}
	if err := r.stores.Patients.Update(ctx, snap); err != nil {
		return nil, err
	}

	r.pub.Publish(sess.ID, ActionPending{
		PatientID: patientID,
		ActionKey: actionKey,
		DelayMs:   sub.DelayMs,
	})

	def := cv.Config.ActionDef(actionKey)
	label, category := actionKey, "unknown"
	if def != nil {
		label, category = def.Label, string(def.Category)
	}
	userName := ""
	if u, err := r.stores.Users.GetByID(ctx, userID); err == nil {
		userName = u.Name
	}
	r.logEvent(ctx, sess.ID, &session.EventLogEntry{
		SessionID: sess.ID,
		PatientID: &patientID,
		UserID:    &userID,
		UserName:  userName,
		SimTimeMs: sess.SimClockMs,
		Type:      session.EventAction,
		Category:  category,
		Detail: map[string]interface{}{
			"action_key": actionKey,
			"label":      label,
			"message":    fmt.Sprintf("%s ordered: %s", userName, label),
		},
	})
	return sub, nil
}

// ToggleResource flips one shared resource and records who noticed.
func (r *Runner) ToggleResource(ctx context.Context, sessionID uuid.UUID, resource string, available bool) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	res, err := r.stores.Resources.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	applyResourceChange(res, resource, available)
	if err := r.stores.Resources.Set(ctx, sessionID, *res); err != nil {
		return err
	}

	r.pub.Publish(sessionID, ResourceChanged{Resource: resource, Available: available})

	verb := "disabled"
	if available {
		verb = "enabled"
	}
	r.logEvent(ctx, sessionID, &session.EventLogEntry{
		SessionID: sessionID,
		SimTimeMs: sess.SimClockMs,
		Type:      session.EventInjection,
		Category:  "resource_change",
		Detail: map[string]interface{}{
			"resource":  resource,
			"available": available,
			"message":   fmt.Sprintf("Facilitator %s %s", verb, resource),
		},
	})
	return nil
}

// InjectEvent records a facilitator-authored event and raises an info alert
// when it carries a message.
func (r *Runner) InjectEvent(ctx context.Context, sessionID uuid.UUID, category string, detail map[string]interface{}) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if category == "" {
		category = "message"
	}
	r.logEvent(ctx, sessionID, &session.EventLogEntry{
		SessionID: sessionID,
		SimTimeMs: sess.SimClockMs,
		Type:      session.EventInjection,
		Category:  category,
		Detail:    detail,
	})
	if msg, ok := detail["message"].(string); ok && msg != "" {
		r.pub.Publish(sessionID, AlertFired{Message: msg, Severity: "info"})
	}
	return nil
}

func (r *Runner) handleTimedEvent(ctx context.Context, sessionID uuid.UUID, te rules.ScenarioTimedEvent, simClockMs int64) {
	switch te.Type {
	case rules.TimedResourceChange:
		resource, _ := te.Payload["resource"].(string)
		available, _ := te.Payload["available"].(bool)
		message, _ := te.Payload["message"].(string)

		res, err := r.stores.Resources.Get(ctx, sessionID)
		if err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("timed event dropped")
			return
		}
		applyResourceChange(res, resource, available)
		if err := r.stores.Resources.Set(ctx, sessionID, *res); err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("timed event dropped")
			return
		}
		r.pub.Publish(sessionID, ResourceChanged{Resource: resource, Available: available})
		r.logEvent(ctx, sessionID, &session.EventLogEntry{
			SessionID: sessionID,
			SimTimeMs: simClockMs,
			Type:      session.EventInjection,
			Category:  "resource_change",
			Detail:    map[string]interface{}{"resource": resource, "available": available, "message": message},
		})
		if message != "" {
			r.pub.Publish(sessionID, AlertFired{Message: message, Severity: "info"})
		}

	case rules.TimedStaffChange:
		available, _ := te.Payload["available"].(bool)
		res, err := r.stores.Resources.Get(ctx, sessionID)
		if err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("timed event dropped")
			return
		}
		res.StaffAvailable = available
		if err := r.stores.Resources.Set(ctx, sessionID, *res); err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("timed event dropped")
			return
		}
		r.pub.Publish(sessionID, ResourceChanged{Resource: "staff", Available: available})
		r.logEvent(ctx, sessionID, &session.EventLogEntry{
			SessionID: sessionID,
			SimTimeMs: simClockMs,
			Type:      session.EventInjection,
			Category:  "staff_change",
			Detail:    te.Payload,
		})

	case rules.TimedMessage:
		message, _ := te.Payload["message"].(string)
		r.logEvent(ctx, sessionID, &session.EventLogEntry{
			SessionID: sessionID,
			SimTimeMs: simClockMs,
			Type:      session.EventInjection,
			Category:  "message",
			Detail:    map[string]interface{}{"message": message},
		})
		r.pub.Publish(sessionID, AlertFired{Message: message, Severity: "info"})
	}
}

func (r *Runner) logEvent(ctx context.Context, sessionID uuid.UUID, e *session.EventLogEntry) {
	if err := r.stores.Events.Append(ctx, e); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("event log append failed")
		return
	}
	r.pub.Publish(sessionID, EventLogged{Event: e})
}

func applyResourceChange(res *session.ResourceState, resource string, available bool) {
	switch resource {
	case "ketometer":
		res.KetometerAvailable = available
	case "labs":
		res.LabsAvailable = available
	case "staff":
		res.StaffAvailable = available
	}
}

func alertSeverity(status patient.Status) string {
	switch status {
	case patient.StatusCollapsed:
		return "critical"
	case patient.StatusCritical:
		return "high"
	case patient.StatusConcerning:
		return "medium"
	default:
		return "low"
	}
}
