package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memRepo struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewMemRepo returns an empty in-memory session repository.
func NewMemRepo() Repository {
	return &memRepo{sessions: make(map[uuid.UUID]*Session)}
}

func (r *memRepo) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) GetByCode(_ context.Context, code string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code = strings.ToUpper(code)
	for _, s := range r.sessions {
		if s.Code == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("session with code %q not found", code)
}

func (r *memRepo) List(_ context.Context, limit, offset int) ([]*Session, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memRepo) Update(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s not found", s.ID)
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

type memUserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
	order []uuid.UUID
}

// NewMemUserRepo returns an empty in-memory user repository.
func NewMemUserRepo() UserRepository {
	return &memUserRepo{users: make(map[uuid.UUID]*User)}
}

func (r *memUserRepo) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.JoinedAt.IsZero() {
		u.JoinedAt = time.Now()
	}
	cp := *u
	r.users[u.ID] = &cp
	r.order = append(r.order, u.ID)
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*User
	for _, id := range r.order {
		if u, ok := r.users[id]; ok && u.SessionID == sessionID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memUserRepo) Update(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return fmt.Errorf("user %s not found", u.ID)
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

type memEventRepo struct {
	mu     sync.RWMutex
	events []*EventLogEntry
}

// NewMemEventRepo returns an empty in-memory event log.
func NewMemEventRepo() EventRepository {
	return &memEventRepo{}
}

func (r *memEventRepo) Append(_ context.Context, e *EventLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *memEventRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*EventLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*EventLogEntry
	for _, e := range r.events {
		if e.SessionID == sessionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memEventRepo) ListBySessionPage(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*EventLogEntry, int, error) {
	all, err := r.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type memResourceRepo struct {
	mu        sync.RWMutex
	resources map[uuid.UUID]ResourceState
}

// NewMemResourceRepo returns an empty in-memory resource store.
func NewMemResourceRepo() ResourceRepository {
	return &memResourceRepo{resources: make(map[uuid.UUID]ResourceState)}
}

func (r *memResourceRepo) Set(_ context.Context, sessionID uuid.UUID, state ResourceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[sessionID] = state
	return nil
}

func (r *memResourceRepo) Get(_ context.Context, sessionID uuid.UUID) (*ResourceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.resources[sessionID]
	if !ok {
		return nil, fmt.Errorf("resources for session %s not found", sessionID)
	}
	return &state, nil
}
