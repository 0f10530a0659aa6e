package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

type AchievementStore struct {
	pool *pgxpool.Pool
}

// ActiveHolder returns the currently active achievement of a kind for a
// segment, or NotFound if no one has claimed it yet.
func (s *AchievementStore) ActiveHolder(ctx context.Context, segmentID uuid.UUID, kind model.AchievementKind) (model.Achievement, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, segment_id, kind, holder_id, effort_id, active, started_at, ended_at
		FROM achievements WHERE segment_id = $1 AND kind = $2 AND active
	`, segmentID, kind)

	var a model.Achievement
	err := row.Scan(&a.ID, &a.SegmentID, &a.Kind, &a.HolderID, &a.EffortID, &a.Active, &a.StartedAt, &a.EndedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Achievement{}, apperr.New(apperr.NotFound, "no active achievement")
		}
		return model.Achievement{}, apperr.Wrap(apperr.Internal, "scan achievement", err)
	}
	return a, nil
}

// CrownLeaderboardEntry is one row of the global crown-count ranking.
type CrownLeaderboardEntry struct {
	UserID     uuid.UUID
	CrownCount int
}

// CrownLeaderboard ranks users by their number of currently active
// achievements (KOM, QOM, and Local Legend combined), for the
// GET /leaderboards/crowns global ranking.
func (s *AchievementStore) CrownLeaderboard(ctx context.Context, limit, offset int) ([]CrownLeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT holder_id, COUNT(*) AS crown_count
		FROM achievements
		WHERE active
		GROUP BY holder_id
		ORDER BY crown_count DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query crown leaderboard", err)
	}
	defer rows.Close()

	var out []CrownLeaderboardEntry
	for rows.Next() {
		var e CrownLeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.CrownCount); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan crown leaderboard row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transition atomically ends the current active achievement (if any) for
// (segment, kind) and activates newHolder's effort in its place. Callers
// must serialize transitions per (segment, kind) themselves — see
// internal/achievement's rendezvous dispatch — this method only guarantees
// atomicity of the single transition, not cross-transition ordering.
func (s *AchievementStore) Transition(ctx context.Context, segmentID uuid.UUID, kind model.AchievementKind, newHolderID, newEffortID uuid.UUID) (model.Achievement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Achievement{}, apperr.Wrap(apperr.Internal, "begin transition", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE achievements SET active = false, ended_at = now()
		WHERE segment_id = $1 AND kind = $2 AND active
	`, segmentID, kind); err != nil {
		return model.Achievement{}, apperr.Wrap(apperr.Internal, "end prior achievement", err)
	}

	id := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO achievements (id, segment_id, kind, holder_id, effort_id, active)
		VALUES ($1, $2, $3, $4, $5, true)
	`, id, segmentID, kind, newHolderID, newEffortID); err != nil {
		return model.Achievement{}, apperr.Wrap(apperr.Internal, "insert new achievement", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Achievement{}, apperr.Wrap(apperr.Internal, "commit transition", err)
	}

	return model.Achievement{ID: id, SegmentID: segmentID, Kind: kind, HolderID: newHolderID, EffortID: newEffortID, Active: true}, nil
}
