package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memConfigRepo struct {
	mu      sync.RWMutex
	configs map[uuid.UUID]*ConfigVersion
}

// NewMemConfigRepo returns an empty in-memory config store.
func NewMemConfigRepo() ConfigRepository {
	return &memConfigRepo{configs: make(map[uuid.UUID]*ConfigVersion)}
}

func (r *memConfigRepo) Add(_ context.Context, cv *ConfigVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cv.ID == uuid.Nil {
		cv.ID = uuid.New()
	}
	r.configs[cv.ID] = cv
	return nil
}

func (r *memConfigRepo) GetByID(_ context.Context, id uuid.UUID) (*ConfigVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cv, ok := r.configs[id]
	if !ok {
		return nil, fmt.Errorf("config %s not found", id)
	}
	return cv, nil
}

func (r *memConfigRepo) Latest(_ context.Context) (*ConfigVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *ConfigVersion
	for _, cv := range r.configs {
		if latest == nil || cv.Version > latest.Version {
			latest = cv
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no config versions loaded")
	}
	return latest, nil
}

func (r *memConfigRepo) List(_ context.Context) ([]*ConfigVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ConfigVersion, 0, len(r.configs))
	for _, cv := range r.configs {
		out = append(out, cv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

type memScenarioRepo struct {
	mu        sync.RWMutex
	scenarios map[string]*ScenarioDefinition
	order     []string
}

// NewMemScenarioRepo returns an empty in-memory scenario store.
func NewMemScenarioRepo() ScenarioRepository {
	return &memScenarioRepo{scenarios: make(map[string]*ScenarioDefinition)}
}

func (r *memScenarioRepo) Add(_ context.Context, s *ScenarioDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scenarios[s.ID]; !ok {
		r.order = append(r.order, s.ID)
	}
	r.scenarios[s.ID] = s
	return nil
}

func (r *memScenarioRepo) GetByID(_ context.Context, id string) (*ScenarioDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %q not found", id)
	}
	return s, nil
}

func (r *memScenarioRepo) List(_ context.Context) ([]*ScenarioDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ScenarioDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.scenarios[id])
	}
	return out, nil
}
