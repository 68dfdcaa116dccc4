package rules

import (
	"context"

	"github.com/google/uuid"
)

// ConfigRepository stores versioned clinical rule sets.
type ConfigRepository interface {
	Add(ctx context.Context, cv *ConfigVersion) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConfigVersion, error)
	Latest(ctx context.Context) (*ConfigVersion, error)
	List(ctx context.Context) ([]*ConfigVersion, error)
}

// ScenarioRepository stores scenario definitions keyed by their declared id.
type ScenarioRepository interface {
	Add(ctx context.Context, s *ScenarioDefinition) error
	GetByID(ctx context.Context, id string) (*ScenarioDefinition, error)
	List(ctx context.Context) ([]*ScenarioDefinition, error)
}
