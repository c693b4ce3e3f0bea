package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const notificationColumns = `id, category, target_type, target_id, user_id, payload, status,
		        attempt_count, last_error, created_at, updated_at, delivered_at`

// NotificationRepository is the Postgres notification outbox.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	n := &model.Notification{}
	var payload []byte
	err := row.Scan(&n.ID, &n.Category, &n.TargetType, &n.TargetID, &n.UserID, &payload, &n.Status,
		&n.AttemptCount, &n.LastError, &n.CreatedAt, &n.UpdatedAt, &n.DeliveredAt)
	if err != nil {
		return nil, err
	}
	n.Payload = payload
	return n, nil
}

// InsertIfAbsent stores n unless its dedupe identity already exists.
func (r *NotificationRepository) InsertIfAbsent(ctx context.Context, n *model.Notification) (bool, error) {
	var payload []byte
	if len(n.Payload) > 0 {
		payload = n.Payload
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO notification_outbox
		     (id, category, target_type, target_id, user_id, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $8)
		 ON CONFLICT (category, target_type, target_id, user_id) DO NOTHING
		 RETURNING id`,
		n.ID, n.Category, n.TargetType, n.TargetID, n.UserID, payload, model.NotificationPending, n.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Claim moves a pending row to sending and counts the attempt.
func (r *NotificationRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*model.Notification, bool, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx,
		`UPDATE notification_outbox
		 SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+notificationColumns,
		id, model.NotificationSending, now, model.NotificationPending,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// MarkDelivered finalizes a sending row.
func (r *NotificationRepository) MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = $2, delivered_at = $3, updated_at = $3, last_error = NULL
		 WHERE id = $1 AND status = $4`,
		id, model.NotificationDelivered, now, model.NotificationSending,
	)
	return err
}

// Release returns a sending row to pending, or fails it once attempts are
// exhausted.
func (r *NotificationRepository) Release(ctx context.Context, id uuid.UUID, lastErr string, maxAttempts int, now time.Time) (model.NotificationStatus, error) {
	var status model.NotificationStatus
	err := r.pool.QueryRow(ctx,
		`UPDATE notification_outbox
		 SET status = CASE WHEN attempt_count >= $3 THEN $5 ELSE $6 END,
		     last_error = $2, updated_at = $4
		 WHERE id = $1 AND status = $7
		 RETURNING status`,
		id, lastErr, maxAttempts, now,
		model.NotificationFailed, model.NotificationPending, model.NotificationSending,
	).Scan(&status)
	if err != nil {
		return "", mapNoRows(err)
	}
	return status, nil
}

// TouchStalePending bumps up to limit pending rows idle since before and
// returns their ids. SKIP LOCKED keeps concurrent workers from picking the
// same rows.
func (r *NotificationRepository) TouchStalePending(ctx context.Context, before, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE notification_outbox
		 SET updated_at = $3
		 WHERE id IN (
		     SELECT id FROM notification_outbox
		     WHERE status = $1 AND updated_at < $2
		     ORDER BY updated_at ASC
		     LIMIT $4
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id`,
		model.NotificationPending, before, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FailStuckSending fails rows whose delivery attempt never reported back.
func (r *NotificationRepository) FailStuckSending(ctx context.Context, before, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = $1, last_error = 'delivery outcome unknown', updated_at = $3
		 WHERE status = $2 AND updated_at < $4`,
		model.NotificationFailed, model.NotificationSending, now, before,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
