package patient

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// memRepo is the default map-backed store. List order is insertion order so
// tick processing and round-robin assignment are deterministic.
type memRepo struct {
	mu        sync.RWMutex
	patients  map[uuid.UUID]*Patient
	bySession map[uuid.UUID][]uuid.UUID
}

// NewMemRepo returns an empty in-memory patient repository.
func NewMemRepo() Repository {
	return &memRepo{
		patients:  make(map[uuid.UUID]*Patient),
		bySession: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *memRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.patients[p.ID] = p.Clone()
	r.bySession[p.SessionID] = append(r.bySession[p.SessionID], p.ID)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s not found", id)
	}
	return p.Clone(), nil
}

func (r *memRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.bySession[sessionID]
	out := make([]*Patient, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.patients[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; !ok {
		return fmt.Errorf("patient %s not found", p.ID)
	}
	r.patients[p.ID] = p.Clone()
	return nil
}
