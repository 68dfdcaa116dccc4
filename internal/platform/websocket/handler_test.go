package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
	"github.com/wardsim/wardsim/internal/domain/session"
	"github.com/wardsim/wardsim/internal/engine"
	"github.com/wardsim/wardsim/internal/platform/auth"
)

// stubScheduler records start/stop without ever firing a tick, so handler
// tests drive the runner explicitly.
type stubScheduler struct {
	mu      sync.Mutex
	running map[uuid.UUID]bool
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{running: make(map[uuid.UUID]bool)}
}

func (s *stubScheduler) Start(id uuid.UUID, _ time.Duration, _ func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[id] = true
}

func (s *stubScheduler) Stop(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

func (s *stubScheduler) Running(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id]
}

type handlerFixture struct {
	handler *Handler
	hub     *Hub
	stores  engine.Stores
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	stores := engine.Stores{
		Sessions:  session.NewMemRepo(),
		Users:     session.NewMemUserRepo(),
		Events:    session.NewMemEventRepo(),
		Resources: session.NewMemResourceRepo(),
		Patients:  patient.NewMemRepo(),
		Configs:   rules.NewMemConfigRepo(),
		Scenarios: rules.NewMemScenarioRepo(),
	}

	ctx := context.Background()
	cfg := rules.ClinicalRulesConfig{
		Version: 1,
		Investigations: []rules.ActionDefinition{
			{Key: "check_glucose", Label: "Capillary Glucose", Category: rules.CategoryInvestigation, DelayMs: 30000},
			{Key: "maternal_observations", Label: "Maternal Observations", Category: rules.CategoryMonitoring, DelayMs: 15000},
		},
		DeteriorationCurves: map[string]rules.DeteriorationCurve{
			"dka": {Stages: []rules.DeteriorationStage{
				{Name: "concerning", DurationMs: 600000, Vitals: patient.VitalsSnapshot{HR: 120, BPSystolic: 100, BPDiastolic: 60, RR: 24, SpO2: 97, Temp: 37.1, GCS: 15}, CTGSummary: "Normal", FetalStatus: patient.FetalReassuring},
			}},
		},
		Scoring:   rules.Scoring{RecognitionTargetMs: 300000, EscalationTargetMs: 480000, TreatmentTargetMs: 720000, RecognitionMaxScore: 25, EscalationMaxScore: 20, TreatmentMaxScore: 25, OutcomeMaxScore: 20, ActionsMaxScore: 10},
		Resources: rules.Resources{KetometerAvailable: true},
	}
	if err := stores.Configs.Add(ctx, &rules.ConfigVersion{Version: 1, Config: cfg}); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	if err := stores.Scenarios.Add(ctx, &rules.ScenarioDefinition{
		ID:              "dka-ward",
		Name:            "Busy Shift",
		DurationMinutes: 30,
		Patients: []rules.ScenarioPatientDef{
			{
				Key: "dka_patient", Name: "Sarah Mitchell", Age: 28, Weight: 68,
				InitialVitals:     patient.VitalsSnapshot{HR: 90, BPSystolic: 110, BPDiastolic: 70, RR: 18, SpO2: 98, Temp: 37.0, GCS: 15},
				DeteriorationType: "dka", IsDKA: true,
				AvailableActions: []string{"check_glucose", "maternal_observations"},
			},
		},
	}); err != nil {
		t.Fatalf("seed scenario: %v", err)
	}

	hub := NewHub()
	svc := session.NewService(stores.Sessions, stores.Users, stores.Events, stores.Resources, stores.Patients)
	runner := engine.NewRunner(stores, NewHubPublisher(hub), newStubScheduler(), engine.NewRand(1), zerolog.Nop())
	handler := NewHandler(hub, svc, runner, stores, auth.NewIssuer("test-secret"), zerolog.Nop())

	return &handlerFixture{handler: handler, hub: hub, stores: stores}
}

func (f *handlerFixture) connect(id string) *Client {
	c := &Client{ID: id, Send: make(chan []byte, 256)}
	f.hub.Register(c)
	return c
}

// recv drains the next outbound event for a client.
func recv(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

// recvType drains events until one of the wanted type arrives.
func recvType(t *testing.T, c *Client, wantType string) Event {
	t.Helper()
	for i := 0; i < 20; i++ {
		ev := recv(t, c)
		if ev.Type == wantType {
			return ev
		}
	}
	t.Fatalf("never received %s", wantType)
	return Event{}
}

func payloadOf(action string, v interface{}) ClientMessage {
	raw, _ := json.Marshal(v)
	return ClientMessage{Action: action, Payload: raw}
}

func createSession(t *testing.T, f *handlerFixture, fac *Client) (sessionID uuid.UUID, code string) {
	t.Helper()
	f.handler.dispatch(fac, payloadOf("facilitator:create", map[string]string{
		"scenario_id": "dka-ward",
		"pin":         "1234",
	}))

	ev := recvType(t, fac, "session:created")
	var created struct {
		Session session.Session `json:"session"`
		User    session.User    `json:"user"`
		Token   string          `json:"token"`
	}
	if err := json.Unmarshal(ev.Data, &created); err != nil {
		t.Fatalf("unmarshal session:created: %v", err)
	}
	if created.Token == "" {
		t.Fatal("expected a facilitator token")
	}
	if created.User.Role != session.RoleFacilitator {
		t.Fatalf("role = %s, want facilitator", created.User.Role)
	}
	return created.Session.ID, created.Session.Code
}

func TestHandler_FacilitatorCreate(t *testing.T) {
	f := newHandlerFixture(t)
	fac := f.connect("fac-1")

	sessionID, code := createSession(t, f, fac)

	if len(code) != session.CodeLength {
		t.Errorf("code length = %d, want %d", len(code), session.CodeLength)
	}
	if fac.Role != string(session.RoleFacilitator) {
		t.Errorf("client role = %s, want facilitator", fac.Role)
	}

	// Creation initialises the scenario's patients and the resource state.
	patients, err := f.stores.Patients.ListBySession(context.Background(), sessionID)
	if err != nil || len(patients) != 1 {
		t.Fatalf("patients = %d (%v), want 1", len(patients), err)
	}
	state := recvType(t, fac, "session:state")
	var snapshot struct {
		Patients  []*patient.Patient       `json:"patients"`
		Resources *session.ResourceState   `json:"resources"`
		Actions   []rules.ActionDefinition `json:"action_definitions"`
	}
	if err := json.Unmarshal(state.Data, &snapshot); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if len(snapshot.Patients) != 1 {
		t.Errorf("snapshot patients = %d, want 1", len(snapshot.Patients))
	}
	if snapshot.Resources == nil || !snapshot.Resources.KetometerAvailable {
		t.Error("expected ketometer available in snapshot")
	}
	if len(snapshot.Actions) != 2 {
		t.Errorf("snapshot action definitions = %d, want 2", len(snapshot.Actions))
	}
}

func TestHandler_CreateUnknownScenario(t *testing.T) {
	f := newHandlerFixture(t)
	fac := f.connect("fac-1")

	f.handler.dispatch(fac, payloadOf("facilitator:create", map[string]string{
		"scenario_id": "missing",
		"pin":         "1234",
	}))

	ev := recvType(t, fac, "session:error")
	var body map[string]string
	json.Unmarshal(ev.Data, &body)
	if body["message"] != "Unknown scenario." {
		t.Errorf("message = %q, want Unknown scenario.", body["message"])
	}
}

func TestHandler_JoinByCode(t *testing.T) {
	f := newHandlerFixture(t)
	fac := f.connect("fac-1")
	sessionID, code := createSession(t, f, fac)

	participant := f.connect("part-1")
	f.handler.dispatch(participant, payloadOf("session:join", map[string]string{
		"code": code,
		"name": "Alex",
	}))

	ev := recvType(t, participant, "session:joined")
	var joined struct {
		User session.User `json:"user"`
	}
	if err := json.Unmarshal(ev.Data, &joined); err != nil {
		t.Fatalf("unmarshal session:joined: %v", err)
	}
	if joined.User.Name != "Alex" || joined.User.Role != session.RoleParticipant {
		t.Errorf("joined user = %s/%s", joined.User.Name, joined.User.Role)
	}
	if participant.SessionID != sessionID {
		t.Error("client not bound to session")
	}

	// The facilitator sees the join broadcast.
	recvType(t, fac, "user:joined")

	// And the participant gets the state snapshot.
	recvType(t, participant, "session:state")
}

func TestHandler_JoinBadCode(t *testing.T) {
	f := newHandlerFixture(t)
	participant := f.connect("part-1")

	f.handler.dispatch(participant, payloadOf("session:join", map[string]string{
		"code": "ZZZZZZ",
		"name": "Alex",
	}))

	ev := recvType(t, participant, "session:error")
	var body map[string]string
	json.Unmarshal(ev.Data, &body)
	if body["message"] != "Session not found. Check your code." {
		t.Errorf("message = %q", body["message"])
	}
}

func TestHandler_AuthWrongPIN(t *testing.T) {
	f := newHandlerFixture(t)
	fac := f.connect("fac-1")
	sessionID, _ := createSession(t, f, fac)

	other := f.connect("fac-2")
	f.handler.dispatch(other, payloadOf("facilitator:auth", map[string]interface{}{
		"session_id": sessionID,
		"pin":        "9999",
	}))

	ev := recvType(t, other, "session:error")
	var body map[string]string
	json.Unmarshal(ev.Data, &body)
	if body["message"] != "Incorrect PIN." {
		t.Errorf("message = %q, want Incorrect PIN.", body["message"])
	}
}

func TestHandler_AuthIssuesToken(t *testing.T) {
	f := newHandlerFixture(t)
	fac := f.connect("fac-1")
	sessionID, _ := createSession(t, f, fac)

	other := f.connect("fac-2")
	f.handler.dispatch(other, payloadOf("facilitator:auth", map[string]interface{}{
		"session_id": sessionID,
		"pin":        "1234",
	}))

	ev := recvType(t, other, "facilitator:authenticated")
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	claims, err := auth.NewIssuer("test-secret").Verify(body.Token)
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.SessionID != sessionID.String() {
		t.Errorf("token session = %s, want %s", claims.SessionID, sessionID)
	}
}

func TestHandler_ParticipantCannotDriveSession(t *testing.T) {
	f := newHandlerFixture(t)
	fac := f.connect("fac-1")
	_, code := createSession(t, f, fac)

	participant := f.connect("part-1")
	f.handler.dispatch(participant, payloadOf("session:join", map[string]string{"code": code, "name": "Alex"}))
	recvType(t, participant, "session:state")

	f.handler.dispatch(participant, ClientMessage{Action: "facilitator:start"})

	ev := recvType(t, participant, "session:error")
	var body map[string]string
	json.Unmarshal(ev.Data, &body)
	if body["message"] != "Facilitator access required." {
		t.Errorf("message = %q", body["message"])
	}
}

func TestHandler_StartThenSubmitAction(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	fac := f.connect("fac-1")
	sessionID, code := createSession(t, f, fac)

	participant := f.connect("part-1")
	f.handler.dispatch(participant, payloadOf("session:join", map[string]string{"code": code, "name": "Alex"}))
	recvType(t, participant, "session:state")

	f.handler.dispatch(fac, ClientMessage{Action: "facilitator:start"})

	sess, err := f.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil || sess.Status != session.StatusRunning {
		t.Fatalf("session status = %v (%v), want running", sess.Status, err)
	}

	patients, _ := f.stores.Patients.ListBySession(ctx, sessionID)
	f.handler.dispatch(participant, payloadOf("action:submit", map[string]interface{}{
		"patient_id": patients[0].ID,
		"action_key": "check_glucose",
	}))

	// The runner broadcasts action:pending before the direct acknowledgement
	// is sent, so the participant's queue holds pending then accepted.
	recvType(t, participant, "action:pending")

	ev := recvType(t, participant, "action:accepted")
	var accepted struct {
		ActionKey string `json:"action_key"`
		DelayMs   int64  `json:"delay_ms"`
	}
	if err := json.Unmarshal(ev.Data, &accepted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if accepted.ActionKey != "check_glucose" || accepted.DelayMs != 30000 {
		t.Errorf("accepted = %s/%d, want check_glucose/30000", accepted.ActionKey, accepted.DelayMs)
	}

	// The facilitator sees the broadcast too.
	recvType(t, fac, "action:pending")
}

func TestHandler_SubmitRejectionForwarded(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	fac := f.connect("fac-1")
	sessionID, code := createSession(t, f, fac)

	participant := f.connect("part-1")
	f.handler.dispatch(participant, payloadOf("session:join", map[string]string{"code": code, "name": "Alex"}))
	recvType(t, participant, "session:state")

	// Session still in lobby.
	patients, _ := f.stores.Patients.ListBySession(ctx, sessionID)
	f.handler.dispatch(participant, payloadOf("action:submit", map[string]interface{}{
		"patient_id": patients[0].ID,
		"action_key": "check_glucose",
	}))

	ev := recvType(t, participant, "session:error")
	var body map[string]string
	json.Unmarshal(ev.Data, &body)
	if body["message"] != "simulation is not running" {
		t.Errorf("message = %q", body["message"])
	}
}

func TestHandler_SubmitRequiresIdentity(t *testing.T) {
	f := newHandlerFixture(t)
	anon := f.connect("anon-1")

	f.handler.dispatch(anon, payloadOf("action:submit", map[string]interface{}{
		"patient_id": uuid.New(),
		"action_key": "check_glucose",
	}))

	ev := recvType(t, anon, "session:error")
	var body map[string]string
	json.Unmarshal(ev.Data, &body)
	if body["message"] != "Not authenticated." {
		t.Errorf("message = %q", body["message"])
	}
}

func TestHandler_EndBroadcastsDebrief(t *testing.T) {
	f := newHandlerFixture(t)
	fac := f.connect("fac-1")
	sessionID, _ := createSession(t, f, fac)

	f.handler.dispatch(fac, ClientMessage{Action: "facilitator:start"})
	f.handler.dispatch(fac, ClientMessage{Action: "facilitator:end"})

	ev := recvType(t, fac, "session:ended")
	var body struct {
		Debrief struct {
			Session   session.Session `json:"session"`
			TeamScore int             `json:"team_score"`
		} `json:"debrief"`
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Debrief.Session.ID != sessionID {
		t.Error("debrief carries wrong session")
	}
	if body.Debrief.Session.Status != session.StatusEnded {
		t.Errorf("status = %s, want ended", body.Debrief.Session.Status)
	}
}

func TestHandler_UnknownAction(t *testing.T) {
	f := newHandlerFixture(t)
	c := f.connect("c-1")

	f.handler.dispatch(c, ClientMessage{Action: "bogus:thing"})

	ev := recvType(t, c, "session:error")
	var body map[string]string
	json.Unmarshal(ev.Data, &body)
	if body["message"] != "Unknown action." {
		t.Errorf("message = %q", body["message"])
	}
}

func TestHandler_AssignPatientBroadcasts(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	fac := f.connect("fac-1")
	sessionID, code := createSession(t, f, fac)

	participant := f.connect("part-1")
	f.handler.dispatch(participant, payloadOf("session:join", map[string]string{"code": code, "name": "Alex"}))
	joined := recvType(t, participant, "session:joined")
	var jb struct {
		User session.User `json:"user"`
	}
	json.Unmarshal(joined.Data, &jb)

	patients, _ := f.stores.Patients.ListBySession(ctx, sessionID)
	f.handler.dispatch(fac, payloadOf("facilitator:assign_patient", map[string]interface{}{
		"user_id":    jb.User.ID,
		"patient_id": patients[0].ID,
	}))

	ev := recvType(t, participant, "user:assigned")
	var ab struct {
		User session.User `json:"user"`
	}
	if err := json.Unmarshal(ev.Data, &ab); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ab.User.AssignedPatientID == nil || *ab.User.AssignedPatientID != patients[0].ID {
		t.Error("assignment not broadcast")
	}
}
