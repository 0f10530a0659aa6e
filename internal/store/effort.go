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

type EffortStore struct {
	pool *pgxpool.Pool
}

// Insert records an effort and recomputes the user's PR flag for the
// segment within the same transaction. Idempotent on (activity_id,
// segment_id, start_fraction): a track can cross the same segment more than
// once per activity (spec.md §9 "a track that crosses the same segment
// twice produces two efforts"), so activity+segment alone can't be the
// dedup key — start_fraction distinguishes independent crossings of the
// same activity/segment pair while still collapsing an exact lease-retry
// replay of the same crossing.
func (s *EffortStore) Insert(ctx context.Context, e model.SegmentEffort) (model.SegmentEffort, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.SegmentEffort{}, apperr.Wrap(apperr.Internal, "begin insert effort", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM segment_efforts WHERE activity_id = $1 AND segment_id = $2 AND start_fraction = $3
	`, e.ActivityID, e.SegmentID, e.StartFraction).Scan(&existingID)
	if err == nil {
		return e, nil
	}
	if err != pgx.ErrNoRows {
		return model.SegmentEffort{}, apperr.Wrap(apperr.Internal, "check existing effort", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO segment_efforts (id, segment_id, activity_id, user_id, started_at, elapsed_sec, start_fraction, end_fraction)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.SegmentID, e.ActivityID, e.UserID, e.StartedAt, e.ElapsedSec, e.StartFraction, e.EndFraction)
	if err != nil {
		return model.SegmentEffort{}, apperr.Wrap(apperr.Internal, "insert effort", err)
	}

	bestID, err := recomputePR(ctx, tx, e.UserID, e.SegmentID)
	if err != nil {
		return model.SegmentEffort{}, err
	}
	e.IsPersonalRecord = bestID == e.ID

	if err := tx.Commit(ctx); err != nil {
		return model.SegmentEffort{}, apperr.Wrap(apperr.Internal, "commit insert effort", err)
	}
	return e, nil
}

// recomputePR clears any prior PR row for (user, segment), marks the
// fastest surviving effort as the new PR and returns that effort's id,
// inside the caller's transaction.
func recomputePR(ctx context.Context, tx pgx.Tx, userID, segmentID uuid.UUID) (uuid.UUID, error) {
	if _, err := tx.Exec(ctx, `
		UPDATE segment_efforts SET is_personal_record = false
		WHERE user_id = $1 AND segment_id = $2 AND is_personal_record
	`, userID, segmentID); err != nil {
		return uuid.Nil, apperr.Wrap(apperr.Internal, "clear prior pr", err)
	}

	var bestID uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM segment_efforts
		WHERE user_id = $1 AND segment_id = $2
		ORDER BY elapsed_sec ASC, started_at ASC LIMIT 1
	`, userID, segmentID).Scan(&bestID)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.Internal, "find best effort", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE segment_efforts SET is_personal_record = true WHERE id = $1`, bestID); err != nil {
		return uuid.Nil, apperr.Wrap(apperr.Internal, "set pr flag", err)
	}
	return bestID, nil
}

// LeaderboardFilter narrows a leaderboard query to a demographic slice, per
// SPEC_FULL.md §4.6 / spec.md §6.
type LeaderboardFilter struct {
	Gender      *model.Gender
	MinBirthYear *int
	MaxBirthYear *int
	Country     *string
	Limit       int
	Offset      int
}

type LeaderboardEntry struct {
	Effort   model.SegmentEffort
	UserName string
	Rank     int
}

// Leaderboard returns the fastest effort per user for a segment, filtered
// and paginated, ranked by elapsed time ascending.
func (s *EffortStore) Leaderboard(ctx context.Context, segmentID uuid.UUID, f LeaderboardFilter) ([]LeaderboardEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT se.id, se.segment_id, se.activity_id, se.user_id, se.started_at, se.elapsed_sec, se.start_fraction, se.end_fraction, se.is_personal_record, se.created_at,
		       u.display_name,
		       RANK() OVER (ORDER BY se.elapsed_sec ASC, se.started_at ASC) AS rank
		FROM segment_efforts se
		JOIN users u ON u.id = se.user_id
		WHERE se.segment_id = $1
		  AND se.is_personal_record
		  AND ($2::text IS NULL OR u.gender = $2)
		  AND ($3::int IS NULL OR u.birth_year >= $3)
		  AND ($4::int IS NULL OR u.birth_year <= $4)
		  AND ($5::text IS NULL OR u.country = $5)
		ORDER BY se.elapsed_sec ASC, se.started_at ASC
		LIMIT $6 OFFSET $7
	`, segmentID, nullableGender(f.Gender), f.MinBirthYear, f.MaxBirthYear, f.Country, limit, f.Offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query leaderboard", err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Effort.ID, &e.Effort.SegmentID, &e.Effort.ActivityID, &e.Effort.UserID, &e.Effort.StartedAt,
			&e.Effort.ElapsedSec, &e.Effort.StartFraction, &e.Effort.EndFraction, &e.Effort.IsPersonalRecord, &e.Effort.CreatedAt, &e.UserName, &e.Rank); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan leaderboard row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LeaderboardPosition returns userID's rank (1-based) among personal-record
// holders on segmentID, plus the k entries immediately above and below, for
// the GET /segments/{id}/leaderboard/position endpoint (spec.md §4.6: "the
// calling user's rank... alongside the ±k neighbours"). ok is false if the
// user has no personal record there.
func (s *EffortStore) LeaderboardPosition(ctx context.Context, segmentID, userID uuid.UUID, k int) (int, []LeaderboardEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT rank FROM (
			SELECT user_id, RANK() OVER (ORDER BY elapsed_sec ASC, started_at ASC) AS rank
			FROM segment_efforts
			WHERE segment_id = $1 AND is_personal_record
		) ranked
		WHERE user_id = $2
	`, segmentID, userID)

	var rank int
	if err := row.Scan(&rank); err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil, false, nil
		}
		return 0, nil, false, apperr.Wrap(apperr.Internal, "query leaderboard position", err)
	}

	lo := rank - k
	if lo < 1 {
		lo = 1
	}
	hi := rank + k

	rows, err := s.pool.Query(ctx, `
		SELECT se.id, se.segment_id, se.activity_id, se.user_id, se.started_at, se.elapsed_sec, se.start_fraction, se.end_fraction, se.is_personal_record, se.created_at,
		       u.display_name, ranked.rank
		FROM segment_efforts se
		JOIN users u ON u.id = se.user_id
		JOIN (
			SELECT id, RANK() OVER (ORDER BY elapsed_sec ASC, started_at ASC) AS rank
			FROM segment_efforts
			WHERE segment_id = $1 AND is_personal_record
		) ranked ON ranked.id = se.id
		WHERE ranked.rank BETWEEN $2 AND $3
		ORDER BY ranked.rank ASC
	`, segmentID, lo, hi)
	if err != nil {
		return 0, nil, false, apperr.Wrap(apperr.Internal, "query leaderboard neighbours", err)
	}
	defer rows.Close()

	var neighbours []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Effort.ID, &e.Effort.SegmentID, &e.Effort.ActivityID, &e.Effort.UserID, &e.Effort.StartedAt,
			&e.Effort.ElapsedSec, &e.Effort.StartFraction, &e.Effort.EndFraction, &e.Effort.IsPersonalRecord, &e.Effort.CreatedAt,
			&e.UserName, &e.Rank); err != nil {
			return 0, nil, false, apperr.Wrap(apperr.Internal, "scan leaderboard neighbour", err)
		}
		neighbours = append(neighbours, e)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, false, apperr.Wrap(apperr.Internal, "iterate leaderboard neighbours", err)
	}

	return rank, neighbours, true, nil
}

// FastestForGender returns the current fastest personal-record effort on a
// segment restricted to one gender, which is how KOM (male) and QOM
// (female) are each independently determined during achievement
// reconciliation.
func (s *EffortStore) FastestForGender(ctx context.Context, segmentID uuid.UUID, gender model.Gender) (model.SegmentEffort, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT se.id, se.segment_id, se.activity_id, se.user_id, se.started_at, se.elapsed_sec, se.start_fraction, se.end_fraction, se.is_personal_record, se.created_at
		FROM segment_efforts se
		JOIN users u ON u.id = se.user_id
		WHERE se.segment_id = $1 AND se.is_personal_record AND u.gender = $2
		ORDER BY se.elapsed_sec ASC, se.started_at ASC LIMIT 1
	`, segmentID, gender)

	var e model.SegmentEffort
	err := row.Scan(&e.ID, &e.SegmentID, &e.ActivityID, &e.UserID, &e.StartedAt, &e.ElapsedSec, &e.StartFraction, &e.EndFraction, &e.IsPersonalRecord, &e.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.SegmentEffort{}, false, nil
		}
		return model.SegmentEffort{}, false, apperr.Wrap(apperr.Internal, "query fastest for gender", err)
	}
	return e, true, nil
}

// LocalLegendCandidate is one row of the trailing-90-day ranking: the user
// with the most distinct calendar days carrying at least one effort on the
// segment.
type LocalLegendCandidate struct {
	UserID      uuid.UUID
	DistinctDays int
}

// LocalLegendLeader returns the user with the most distinct calendar days
// of efforts on the segment within the trailing window ending at asOf,
// resolving the Local Legend title per SPEC_FULL.md §9 (days, not raw
// effort count — a single long day of repeats doesn't out-rank someone who
// shows up on more separate days).
func (s *EffortStore) LocalLegendLeader(ctx context.Context, segmentID uuid.UUID, window time.Duration, asOf time.Time) (LocalLegendCandidate, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, COUNT(DISTINCT started_at::date) AS distinct_days
		FROM segment_efforts
		WHERE segment_id = $1 AND started_at > $2 AND started_at <= $3
		GROUP BY user_id
		ORDER BY distinct_days DESC, MIN(started_at) ASC
		LIMIT 1
	`, segmentID, asOf.Add(-window), asOf)

	var c LocalLegendCandidate
	err := row.Scan(&c.UserID, &c.DistinctDays)
	if err != nil {
		if err == pgx.ErrNoRows {
			return LocalLegendCandidate{}, false, nil
		}
		return LocalLegendCandidate{}, false, apperr.Wrap(apperr.Internal, "query local legend leader", err)
	}
	return c, true, nil
}

// LatestForUser returns a user's most recent effort on a segment, used by
// the achievement reconciler to anchor a Local Legend transition to a
// concrete effort row (the achievements table requires one, even though
// the title itself is a rolling aggregate rather than a single traversal).
func (s *EffortStore) LatestForUser(ctx context.Context, segmentID, userID uuid.UUID) (model.SegmentEffort, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, segment_id, activity_id, user_id, started_at, elapsed_sec, start_fraction, end_fraction, is_personal_record, created_at
		FROM segment_efforts
		WHERE segment_id = $1 AND user_id = $2
		ORDER BY started_at DESC LIMIT 1
	`, segmentID, userID)

	var e model.SegmentEffort
	err := row.Scan(&e.ID, &e.SegmentID, &e.ActivityID, &e.UserID, &e.StartedAt, &e.ElapsedSec, &e.StartFraction, &e.EndFraction, &e.IsPersonalRecord, &e.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.SegmentEffort{}, false, nil
		}
		return model.SegmentEffort{}, false, apperr.Wrap(apperr.Internal, "query latest effort for user", err)
	}
	return e, true, nil
}

func nullableGender(g *model.Gender) *string {
	if g == nil {
		return nil
	}
	s := string(*g)
	return &s
}
