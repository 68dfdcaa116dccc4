package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/wardsim/wardsim/internal/domain/patient"
)

// Ambiguous glyphs (I, O, 0, 1) are excluded from join codes.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the join code length shown to participants.
const CodeLength = 6

// Service implements session bookkeeping: creation, joining by code,
// facilitator authentication and patient assignment.
type Service struct {
	sessions  Repository
	users     UserRepository
	events    EventRepository
	resources ResourceRepository
	patients  patient.Repository
}

// NewService wires the session service to its stores.
func NewService(sessions Repository, users UserRepository, events EventRepository, resources ResourceRepository, patients patient.Repository) *Service {
	return &Service{sessions: sessions, users: users, events: events, resources: resources, patients: patients}
}

// GenerateCode produces a random join code.
func GenerateCode() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// Create creates a session in the lobby state.
func (s *Service) Create(ctx context.Context, scenarioID string, configID uuid.UUID, pin string) (*Session, error) {
	if scenarioID == "" {
		return nil, fmt.Errorf("scenario_id is required")
	}
	if len(pin) < 4 || len(pin) > 8 {
		return nil, fmt.Errorf("pin must be 4-8 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("pin must be 4-8 digits")
		}
	}
	sess := &Session{
		Code:           GenerateCode(),
		ScenarioID:     scenarioID,
		ConfigID:       configID,
		Status:         StatusLobby,
		SimClockMs:     0,
		SpeedFactor:    1.0,
		FacilitatorPIN: pin,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetByID returns a session by id.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.sessions.GetByID(ctx, id)
}

// AppendEvent records one entry in the session event log.
func (s *Service) AppendEvent(ctx context.Context, e *EventLogEntry) error {
	return s.events.Append(ctx, e)
}

// EventsPage returns one page of the session event log in insertion order.
func (s *Service) EventsPage(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*EventLogEntry, int, error) {
	return s.events.ListBySessionPage(ctx, sessionID, limit, offset)
}

// Users returns the users joined to a session in join order.
func (s *Service) Users(ctx context.Context, sessionID uuid.UUID) ([]*User, error) {
	return s.users.ListBySession(ctx, sessionID)
}

// List returns a page of sessions, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Session, int, error) {
	return s.sessions.List(ctx, limit, offset)
}

// GetByCode returns a session by join code, case-insensitively.
func (s *Service) GetByCode(ctx context.Context, code string) (*Session, error) {
	return s.sessions.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// Join adds a participant to a session looked up by code.
func (s *Service) Join(ctx context.Context, code, name, clientID string) (*User, *Session, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return nil, nil, fmt.Errorf("name must be 1-50 characters")
	}
	sess, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("session not found, check your code")
	}
	if sess.Status == StatusEnded {
		return nil, nil, fmt.Errorf("this session has ended")
	}
	u := &User{
		SessionID: sess.ID,
		Name:      name,
		Role:      RoleParticipant,
		ClientID:  clientID,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, nil, err
	}
	return u, sess, nil
}

// Authenticate verifies a facilitator PIN and returns the facilitator user,
// creating one on first auth.
func (s *Service) Authenticate(ctx context.Context, sessionID uuid.UUID, pin, clientID string) (*User, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found")
	}
	if sess.FacilitatorPIN != pin {
		return nil, fmt.Errorf("incorrect PIN")
	}
	users, err := s.users.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Role == RoleFacilitator {
			u.ClientID = clientID
			if err := s.users.Update(ctx, u); err != nil {
				return nil, err
			}
			return u, nil
		}
	}
	fac := &User{
		SessionID: sessionID,
		Name:      "Facilitator",
		Role:      RoleFacilitator,
		ClientID:  clientID,
	}
	if err := s.users.Create(ctx, fac); err != nil {
		return nil, err
	}
	return fac, nil
}

// AssignPatient assigns a patient to a participant.
func (s *Service) AssignPatient(ctx context.Context, userID, patientID uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.AssignedPatientID = &patientID
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// AutoAssign assigns patients to all participants round-robin and returns the
// updated participants.
func (s *Service) AutoAssign(ctx context.Context, sessionID uuid.UUID) ([]*User, error) {
	users, err := s.users.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	patients, err := s.patients.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients in session")
	}
	var assigned []*User
	i := 0
	for _, u := range users {
		if u.Role != RoleParticipant {
			continue
		}
		pid := patients[i%len(patients)].ID
		u.AssignedPatientID = &pid
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
		assigned = append(assigned, u)
		i++
	}
	return assigned, nil
}

// DetachClient clears the client binding when a connection drops.
func (s *Service) DetachClient(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	u.ClientID = ""
	return s.users.Update(ctx, u)
}
