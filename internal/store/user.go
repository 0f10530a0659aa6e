package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func (s *UserStore) Create(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, gender, birth_year, weight_class_kg, country)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.DisplayName, u.Gender, u.BirthYear, u.WeightClassKg, u.Country)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert user", err)
	}
	return nil
}

func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, display_name, gender, birth_year, weight_class_kg, country, follower_count, following_count, created_at
		FROM users WHERE id = $1
	`, id)

	var u model.User
	err := row.Scan(&u.ID, &u.DisplayName, &u.Gender, &u.BirthYear, &u.WeightClassKg, &u.Country, &u.FollowerCount, &u.FollowingCount, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.User{}, apperr.New(apperr.NotFound, "user not found")
		}
		return model.User{}, apperr.Wrap(apperr.Internal, "scan user", err)
	}
	return u, nil
}

// Follow records a follower relationship and bumps both denormalized
// counters in the same transaction.
func (s *UserStore) Follow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin follow", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, followerID, followeeID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert follow", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE users SET following_count = following_count + 1 WHERE id = $1`, followerID); err != nil {
			return apperr.Wrap(apperr.Internal, "increment following count", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET follower_count = follower_count + 1 WHERE id = $1`, followeeID); err != nil {
			return apperr.Wrap(apperr.Internal, "increment follower count", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit follow", err)
	}
	return nil
}

// Unfollow is the inverse toggle; unfollowing someone not followed is a
// no-op, matching the idempotency contract in spec.md §6.
func (s *UserStore) Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin unfollow", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete follow", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE users SET following_count = GREATEST(following_count - 1, 0) WHERE id = $1`, followerID); err != nil {
			return apperr.Wrap(apperr.Internal, "decrement following count", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET follower_count = GREATEST(follower_count - 1, 0) WHERE id = $1`, followeeID); err != nil {
			return apperr.Wrap(apperr.Internal, "decrement follower count", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit unfollow", err)
	}
	return nil
}

// IsFollowing reports whether followerID follows followeeID, for the
// read-only GET variant of the follow toggle endpoint.
func (s *UserStore) IsFollowing(ctx context.Context, followerID, followeeID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`, followerID, followeeID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "check following", err)
	}
	return exists, nil
}

// FollowedIDs returns followerID itself followed by every user followerID
// follows, the owner set used to build the activity feed.
func (s *UserStore) FollowedIDs(ctx context.Context, followerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT followee_id FROM follows WHERE follower_id = $1`, followerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query followed ids", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{followerID}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan followed id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReconcileFollowerCounts recomputes follower_count/following_count from the
// follows table directly, the drift-correction half of the incremental
// Follow path (periodic asynq job, per SPEC_FULL.md §4.3/§9).
func (s *UserStore) ReconcileFollowerCounts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users u SET follower_count = sub.cnt
		FROM (SELECT followee_id, COUNT(*) AS cnt FROM follows GROUP BY followee_id) sub
		WHERE u.id = sub.followee_id AND u.follower_count != sub.cnt
	`)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "reconcile follower counts", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE users u SET following_count = sub.cnt
		FROM (SELECT follower_id, COUNT(*) AS cnt FROM follows GROUP BY follower_id) sub
		WHERE u.id = sub.follower_id AND u.following_count != sub.cnt
	`)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "reconcile following counts", err)
	}
	return nil
}
