package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProctorEventRepository is the append-only proctor event log.
type ProctorEventRepository struct {
	pool *pgxpool.Pool
}

// NewProctorEventRepository creates a new ProctorEventRepository.
func NewProctorEventRepository(pool *pgxpool.Pool) *ProctorEventRepository {
	return &ProctorEventRepository{pool: pool}
}

// AppendProctorEvent inserts one event. Returns model.ErrNotFound when the
// session does not exist.
func (r *ProctorEventRepository) AppendProctorEvent(ctx context.Context, ev *model.ProctorEvent) error {
	var detail []byte
	if len(ev.Detail) > 0 {
		detail = ev.Detail
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_events (id, session_id, user_id, event_type, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		ev.ID, ev.SessionID, ev.UserID, ev.Type, detail, ev.CreatedAt,
	)
	if isPgCode(err, pgForeignKeyViolation) {
		return model.ErrNotFound
	}
	return err
}

// CountProctorEvents counts a session's events of the given types, or all
// of them when types is empty.
func (r *ProctorEventRepository) CountProctorEvents(ctx context.Context, sessionID uuid.UUID, types []string) (int, error) {
	var n int
	var err error
	if len(types) == 0 {
		err = r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM proctor_events WHERE session_id = $1`, sessionID,
		).Scan(&n)
	} else {
		err = r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM proctor_events WHERE session_id = $1 AND event_type = ANY($2)`,
			sessionID, types,
		).Scan(&n)
	}
	return n, err
}

// ListProctorEvents returns a session's events, oldest first.
func (r *ProctorEventRepository) ListProctorEvents(ctx context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, user_id, event_type, detail, created_at
		 FROM proctor_events
		 WHERE session_id = $1
		 ORDER BY created_at ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.ProctorEvent, 0)
	for rows.Next() {
		var ev model.ProctorEvent
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.UserID, &ev.Type, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Detail = detail
		events = append(events, ev)
	}
	return events, rows.Err()
}
