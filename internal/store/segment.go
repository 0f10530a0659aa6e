package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twpayne/go-geom"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

type SegmentStore struct {
	pool *pgxpool.Pool
}

func (s *SegmentStore) Create(ctx context.Context, seg model.Segment) error {
	g, err := toLineStringZM(seg.Points)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO segments (id, name, creator_id, visibility, activity_type_id, segment_geom, distance_m, elevation_gain_m, average_grade, climb_category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, seg.ID, seg.Name, seg.CreatorID, seg.Visibility, seg.ActivityTypeID, g, seg.DistanceM, seg.ElevationGainM, seg.AverageGrade, seg.ClimbCategory)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert segment", err)
	}
	return nil
}

// IsStarred reports whether userID has starred segmentID, for the read-only
// GET variant of the star toggle endpoint.
func (s *SegmentStore) IsStarred(ctx context.Context, segmentID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM segment_stars WHERE segment_id = $1 AND user_id = $2)`, segmentID, userID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "check star", err)
	}
	return exists, nil
}

const selectSegmentSQL = `
	SELECT id, name, creator_id, visibility, activity_type_id, segment_geom, distance_m, elevation_gain_m, average_grade, climb_category, star_count, created_at
	FROM segments`

func (s *SegmentStore) Get(ctx context.Context, id uuid.UUID) (model.Segment, error) {
	row := s.pool.QueryRow(ctx, selectSegmentSQL+` WHERE id = $1`, id)
	return scanSegment(row)
}

func scanSegment(row pgx.Row) (model.Segment, error) {
	var seg model.Segment
	var g geom.T
	err := row.Scan(&seg.ID, &seg.Name, &seg.CreatorID, &seg.Visibility, &seg.ActivityTypeID, &g, &seg.DistanceM, &seg.ElevationGainM, &seg.AverageGrade, &seg.ClimbCategory, &seg.StarCount, &seg.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Segment{}, apperr.New(apperr.NotFound, "segment not found")
		}
		return model.Segment{}, apperr.Wrap(apperr.Internal, "scan segment", err)
	}
	if ls, ok := g.(*geom.LineString); ok {
		seg.Points = fromLineStringZM(ls)
	}
	return seg, nil
}

// Nearby returns segments whose bounding geography is within radiusMeters of
// the given point, for the read API's "nearby segments" endpoint.
func (s *SegmentStore) Nearby(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM segments
		WHERE ST_DWithin(segment_geog, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(segment_geog, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
		LIMIT $4
	`, lon, lat, radiusMeters, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query nearby segments", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan nearby segment", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NearRoute returns candidate segment IDs whose geography lies within
// toleranceMeters of the given activity's route, via the same
// bbox-then-distance strategy the trajectory store uses in reverse (see
// find_segments_near_route in migrations).
func (s *SegmentStore) NearRoute(ctx context.Context, activityID uuid.UUID, toleranceMeters float64) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT segment_id FROM find_segments_near_route($1, $2)`, activityID, toleranceMeters)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query segments near route", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan segment near route", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SegmentStore) AddStar(ctx context.Context, segmentID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin add star", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO segment_stars (segment_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, segmentID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert star", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE segments SET star_count = star_count + 1 WHERE id = $1`, segmentID); err != nil {
			return apperr.Wrap(apperr.Internal, "increment star count", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit add star", err)
	}
	return nil
}

// RemoveStar is the inverse toggle; removing a star that was never given is
// a no-op, matching the idempotency contract in spec.md §6.
func (s *SegmentStore) RemoveStar(ctx context.Context, segmentID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin remove star", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM segment_stars WHERE segment_id = $1 AND user_id = $2`, segmentID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete star", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE segments SET star_count = GREATEST(star_count - 1, 0) WHERE id = $1`, segmentID); err != nil {
			return apperr.Wrap(apperr.Internal, "decrement star count", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit remove star", err)
	}
	return nil
}
