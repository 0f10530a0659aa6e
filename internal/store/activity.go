package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

type ActivityStore struct {
	pool *pgxpool.Pool
}

// Create inserts a new activity. If an activity with the same owner and
// content hash already exists, it is returned instead (dedup-on-upload, per
// SPEC_FULL.md §3) and created reports false.
func (s *ActivityStore) Create(ctx context.Context, a model.Activity) (model.Activity, bool, error) {
	if err := a.ValidateMultiSport(); err != nil {
		return model.Activity{}, false, apperr.Wrap(apperr.InvalidInput, "multi-sport arrays", err)
	}

	existing, err := s.byOwnerAndHash(ctx, a.OwnerID, a.ContentHash)
	if err == nil {
		return existing, false, nil
	}
	if apperr.KindOf(err) != apperr.NotFound {
		return model.Activity{}, false, err
	}

	if a.Status == "" {
		a.Status = model.ActivityStatusPending
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO activities (id, owner_id, activity_type_id, title, visibility, content_hash, file_format, status, type_boundaries, segment_types, started_at, duration_sec, distance_m, elevation_gain_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, a.ID, a.OwnerID, a.ActivityTypeID, a.Title, a.Visibility, a.ContentHash, a.FileFormat, a.Status, a.TypeBoundaries, a.SegmentTypes, a.StartedAt, a.DurationSec, a.DistanceM, a.ElevationGainM)
	if err != nil {
		return model.Activity{}, false, apperr.Wrap(apperr.Internal, "insert activity", err)
	}
	return a, true, nil
}

func (s *ActivityStore) byOwnerAndHash(ctx context.Context, ownerID uuid.UUID, hash string) (model.Activity, error) {
	row := s.pool.QueryRow(ctx, selectActivitySQL+` WHERE owner_id = $1 AND content_hash = $2 AND deleted_at IS NULL`, ownerID, hash)
	return scanActivity(row)
}

func (s *ActivityStore) Get(ctx context.Context, id uuid.UUID) (model.Activity, error) {
	row := s.pool.QueryRow(ctx, selectActivitySQL+` WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanActivity(row)
}

// Feed returns the most recent activities among the given owner set (e.g.
// the viewer plus whoever they follow); visibility filtering beyond "is
// this owner in scope" is the caller's job — see internal/visibility.
func (s *ActivityStore) Feed(ctx context.Context, ownerIDs []uuid.UUID, limit, offset int) ([]model.Activity, error) {
	rows, err := s.pool.Query(ctx, selectActivitySQL+`
		WHERE owner_id = ANY($1) AND deleted_at IS NULL
		ORDER BY started_at DESC LIMIT $2 OFFSET $3
	`, ownerIDs, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query feed", err)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		a, err := scanActivityRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateVisibility patches the mutable fields the owner is allowed to change
// after upload, per spec.md §6's PATCH /activities/{id}.
func (s *ActivityStore) UpdateVisibility(ctx context.Context, id uuid.UUID, title string, visibility model.Visibility) error {
	tag, err := s.pool.Exec(ctx, `UPDATE activities SET title = $2, visibility = $3 WHERE id = $1`, id, title, visibility)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update activity", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "activity not found")
	}
	return nil
}

// Delete soft-deletes an activity, per spec.md §6. A deleted activity drops
// out of Get/Feed/byOwnerAndHash immediately; its track and efforts rows are
// left in place rather than cascaded, since a future undelete is cheaper to
// support than a recompute.
func (s *ActivityStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE activities SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete activity", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "activity not found")
	}
	return nil
}

// HasKudoed reports whether userID has already kudoed activityID, for the
// read-only GET variant of the kudos toggle endpoint.
func (s *ActivityStore) HasKudoed(ctx context.Context, activityID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM activity_kudos WHERE activity_id = $1 AND user_id = $2)`, activityID, userID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "check kudos", err)
	}
	return exists, nil
}

// MarkFailed records a decode failure and succeeds the ingestion job
// without scheduling a retry, per spec.md §4.4 step 3.
func (s *ActivityStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE activities SET status = $2, failure_reason = $3 WHERE id = $1
	`, id, model.ActivityStatusFailed, reason)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "mark activity failed", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "activity not found")
	}
	return nil
}

// ActivityCounters holds the denormalized fields the ingestion worker
// derives from the committed track, per spec.md §4.4 step 4.
type ActivityCounters struct {
	DistanceM      float64
	ElevationGainM float64
	DurationSec    int
	PointCount     int
}

// CommitProcessed marks an activity processed and updates its denormalized
// counters in the same statement. The ingestion worker calls it as its last
// step, once matching, scoring and reconciliation dispatch have finished.
func (s *ActivityStore) CommitProcessed(ctx context.Context, id uuid.UUID, c ActivityCounters) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE activities
		SET status = $2, distance_m = $3, elevation_gain_m = $4, duration_sec = $5, point_count = $6
		WHERE id = $1
	`, id, model.ActivityStatusProcessed, c.DistanceM, c.ElevationGainM, c.DurationSec, c.PointCount)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "commit activity counters", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "activity not found")
	}
	return nil
}

func (s *ActivityStore) AddKudos(ctx context.Context, activityID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin add kudos", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO activity_kudos (activity_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, activityID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert kudos", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE activities SET kudos_count = kudos_count + 1 WHERE id = $1`, activityID); err != nil {
			return apperr.Wrap(apperr.Internal, "increment kudos count", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit add kudos", err)
	}
	return nil
}

// RemoveKudos is the inverse toggle; removing a kudos that was never given
// is a no-op, keeping the endpoint idempotent per spec.md §6.
func (s *ActivityStore) RemoveKudos(ctx context.Context, activityID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin remove kudos", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM activity_kudos WHERE activity_id = $1 AND user_id = $2`, activityID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete kudos", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE activities SET kudos_count = GREATEST(kudos_count - 1, 0) WHERE id = $1`, activityID); err != nil {
			return apperr.Wrap(apperr.Internal, "decrement kudos count", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit remove kudos", err)
	}
	return nil
}

// DistanceLeaderboardEntry is one row of the global total-distance ranking.
type DistanceLeaderboardEntry struct {
	UserID         uuid.UUID
	TotalDistanceM float64
}

// DistanceLeaderboard ranks users by cumulative distance across their
// processed activities, for the GET /leaderboards/distance global ranking.
func (s *ActivityStore) DistanceLeaderboard(ctx context.Context, limit, offset int) ([]DistanceLeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT owner_id, SUM(distance_m) AS total_distance_m
		FROM activities
		WHERE status = $1 AND deleted_at IS NULL
		GROUP BY owner_id
		ORDER BY total_distance_m DESC
		LIMIT $2 OFFSET $3
	`, model.ActivityStatusProcessed, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query distance leaderboard", err)
	}
	defer rows.Close()

	var out []DistanceLeaderboardEntry
	for rows.Next() {
		var e DistanceLeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.TotalDistanceM); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan distance leaderboard row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountryLeaderboardEntry is one row of the global per-country ranking.
type CountryLeaderboardEntry struct {
	Country        string
	TotalDistanceM float64
}

// CountryLeaderboard ranks countries by cumulative distance logged by their
// athletes, for the GET /leaderboards/countries global ranking.
func (s *ActivityStore) CountryLeaderboard(ctx context.Context, limit, offset int) ([]CountryLeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT u.country, SUM(a.distance_m) AS total_distance_m
		FROM activities a
		JOIN users u ON u.id = a.owner_id
		WHERE a.status = $1 AND u.country != '' AND a.deleted_at IS NULL
		GROUP BY u.country
		ORDER BY total_distance_m DESC
		LIMIT $2 OFFSET $3
	`, model.ActivityStatusProcessed, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query country leaderboard", err)
	}
	defer rows.Close()

	var out []CountryLeaderboardEntry
	for rows.Next() {
		var e CountryLeaderboardEntry
		if err := rows.Scan(&e.Country, &e.TotalDistanceM); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan country leaderboard row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const selectActivitySQL = `
	SELECT id, owner_id, activity_type_id, title, visibility, content_hash, file_format, status, failure_reason,
	       type_boundaries, segment_types, started_at, duration_sec, distance_m, elevation_gain_m, point_count, kudos_count, created_at
	FROM activities`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row pgx.Row) (model.Activity, error) {
	return scanActivityRows(row)
}

func scanActivityRows(row rowScanner) (model.Activity, error) {
	var a model.Activity
	var boundaries []time.Time
	var segTypes []uuid.UUID
	err := row.Scan(&a.ID, &a.OwnerID, &a.ActivityTypeID, &a.Title, &a.Visibility, &a.ContentHash, &a.FileFormat, &a.Status, &a.FailureReason,
		&boundaries, &segTypes, &a.StartedAt, &a.DurationSec, &a.DistanceM, &a.ElevationGainM, &a.PointCount, &a.KudosCount, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Activity{}, apperr.New(apperr.NotFound, "activity not found")
		}
		return model.Activity{}, apperr.Wrap(apperr.Internal, "scan activity", err)
	}
	a.TypeBoundaries = boundaries
	a.SegmentTypes = segTypes
	return a, nil
}
