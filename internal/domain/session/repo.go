package session

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the keyed session store.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByCode(ctx context.Context, code string) (*Session, error)
	List(ctx context.Context, limit, offset int) ([]*Session, int, error)
	Update(ctx context.Context, s *Session) error
}

// UserRepository stores joined users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*User, error)
	Update(ctx context.Context, u *User) error
}

// EventRepository is the append-only session event log. Append assigns the id
// and created-at; ListBySession returns entries in insertion order.
type EventRepository interface {
	Append(ctx context.Context, e *EventLogEntry) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*EventLogEntry, error)
	ListBySessionPage(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*EventLogEntry, int, error)
}

// ResourceRepository stores per-session resource availability.
type ResourceRepository interface {
	Set(ctx context.Context, sessionID uuid.UUID, state ResourceState) error
	Get(ctx context.Context, sessionID uuid.UUID) (*ResourceState, error)
}
