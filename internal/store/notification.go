package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

type NotificationStore struct {
	pool *pgxpool.Pool
}

// Append inserts a notification. The notification log is append-only — the
// only mutation allowed afterward is MarkRead. Conflicting on id makes a
// job retry that re-delivers the same notification a no-op rather than a
// duplicate.
func (s *NotificationStore) Append(ctx context.Context, n model.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, kind, actor_id, target_type, target_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.UserID, n.Kind, n.ActorID, n.TargetType, n.TargetID, json.RawMessage(n.Payload))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert notification", err)
	}
	return nil
}

func (s *NotificationStore) ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, actor_id, target_type, target_id, payload, read_at, created_at
		FROM notifications WHERE user_id = $1 AND read_at IS NULL
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query unread notifications", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.ActorID, &n.TargetType, &n.TargetID, &n.Payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan notification", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read_at = now() WHERE id = $1 AND read_at IS NULL`, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "notification not found or already read")
	}
	return nil
}
