package session

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres-backed repositories for the durable parts of a session: the
// session record and the audit event log. Patients and users stay in memory;
// the engine only ever talks to the repository interfaces so either backing
// works.

type pgRepo struct{ pool *pgxpool.Pool }

// NewPGRepo returns a session repository backed by Postgres.
func NewPGRepo(pool *pgxpool.Pool) Repository { return &pgRepo{pool: pool} }

const sessionCols = `id, code, scenario_id, config_id, status, sim_clock_ms, speed_factor, facilitator_pin, created_at, ended_at`

func (r *pgRepo) scan(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.Code, &s.ScenarioID, &s.ConfigID, &s.Status, &s.SimClockMs,
		&s.SpeedFactor, &s.FacilitatorPIN, &s.CreatedAt, &s.EndedAt)
	return &s, err
}

func (r *pgRepo) Create(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sim_session (id, code, scenario_id, config_id, status, sim_clock_ms, speed_factor, facilitator_pin)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.Code, s.ScenarioID, s.ConfigID, s.Status, s.SimClockMs, s.SpeedFactor, s.FacilitatorPIN)
	return err
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM sim_session WHERE id = $1`, id))
}

func (r *pgRepo) GetByCode(ctx context.Context, code string) (*Session, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM sim_session WHERE code = $1`, strings.ToUpper(code)))
}

func (r *pgRepo) List(ctx context.Context, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sim_session`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+sessionCols+` FROM sim_session ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *pgRepo) Update(ctx context.Context, s *Session) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sim_session SET status=$2, sim_clock_ms=$3, speed_factor=$4, ended_at=$5
		WHERE id = $1`,
		s.ID, s.Status, s.SimClockMs, s.SpeedFactor, s.EndedAt)
	return err
}

type pgEventRepo struct{ pool *pgxpool.Pool }

// NewPGEventRepo returns an event log backed by Postgres. A bigserial seq
// column preserves insertion order across restarts.
func NewPGEventRepo(pool *pgxpool.Pool) EventRepository { return &pgEventRepo{pool: pool} }

const eventCols = `id, session_id, patient_id, user_id, user_name, sim_time_ms, type, category, detail, created_at`

func (r *pgEventRepo) scan(row pgx.Row) (*EventLogEntry, error) {
	var e EventLogEntry
	var detail []byte
	err := row.Scan(&e.ID, &e.SessionID, &e.PatientID, &e.UserID, &e.UserName,
		&e.SimTimeMs, &e.Type, &e.Category, &detail, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (r *pgEventRepo) Append(ctx context.Context, e *EventLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO sim_event (id, session_id, patient_id, user_id, user_name, sim_time_ms, type, category, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		e.ID, e.SessionID, e.PatientID, e.UserID, e.UserName, e.SimTimeMs, e.Type, e.Category, detail).
		Scan(&e.CreatedAt)
}

func (r *pgEventRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*EventLogEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventCols+` FROM sim_event WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*EventLogEntry
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgEventRepo) ListBySessionPage(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*EventLogEntry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sim_event WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+eventCols+` FROM sim_event WHERE session_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*EventLogEntry
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
