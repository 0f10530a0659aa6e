package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twpayne/go-geom"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

// TrajectoryStore persists the 4-D point stream for an activity as a
// LINESTRING ZM, per SPEC_FULL.md §4.1.
type TrajectoryStore struct {
	pool *pgxpool.Pool
}

// Put upserts the full track for an activity. Idempotent: replaying the same
// activity_id with the same points is a no-op after the first write.
func (s *TrajectoryStore) Put(ctx context.Context, activityID uuid.UUID, points []model.Point) error {
	g, err := toLineStringZM(points)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO activity_geometries (activity_id, route_geom)
		VALUES ($1, $2)
		ON CONFLICT (activity_id) DO UPDATE SET route_geom = EXCLUDED.route_geom
	`, activityID, g)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "put trajectory", err)
	}
	return nil
}

// GetPoints reconstructs the point stream for an activity. Legacy rows
// written before the ZM upgrade come back as XY; Z and M are absent there
// and surface as nil Elevation/Time, same as a native XYZM row with Z=M=0.
func (s *TrajectoryStore) GetPoints(ctx context.Context, activityID uuid.UUID) ([]model.Point, error) {
	var g geom.T
	err := s.pool.QueryRow(ctx, `SELECT route_geom FROM activity_geometries WHERE activity_id = $1`, activityID).Scan(&g)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "trajectory not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "get trajectory", err)
	}

	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, apperr.New(apperr.Internal, "trajectory row is not a linestring")
	}
	return fromLineStringZM(ls), nil
}

// IntersectingActivityIDs returns activity IDs whose route passes within
// toleranceMeters of the given segment, the candidate set the matcher then
// scores in-process for direction and coverage.
func (s *TrajectoryStore) IntersectingActivityIDs(ctx context.Context, segmentID uuid.UUID, toleranceMeters float64) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT activity_id FROM find_route_parts_matching_segment($1, $2)`, segmentID, toleranceMeters)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "find candidate activities", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan candidate activity", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func toLineStringZM(points []model.Point) (*geom.LineString, error) {
	if len(points) < 2 {
		return nil, apperr.New(apperr.InvalidInput, "track needs at least 2 points")
	}
	flat := make([]float64, 0, len(points)*4)
	for _, p := range points {
		var ele, epoch float64
		if p.Elevation != nil {
			ele = *p.Elevation
		}
		if p.Time != nil {
			epoch = float64(p.Time.Unix())
		}
		// PostGIS/WKT coordinate order is lon, lat — reversed from how humans
		// read lat/lon. Getting this backwards is the single most common
		// class of bug against this store.
		flat = append(flat, p.Lon, p.Lat, ele, epoch)
	}
	ls := geom.NewLineStringFlat(geom.XYZM, flat)
	return ls, nil
}

func fromLineStringZM(ls *geom.LineString) []model.Point {
	layout := ls.Layout()
	coords := ls.FlatCoords()
	stride := layout.Stride()

	points := make([]model.Point, 0, len(coords)/stride)
	for i := 0; i+1 < len(coords); i += stride {
		p := model.Point{Lon: coords[i], Lat: coords[i+1]}
		if layout.ZIndex() >= 0 && stride > layout.ZIndex() {
			if z := coords[i+layout.ZIndex()]; z != 0 {
				zv := z
				p.Elevation = &zv
			}
		}
		if layout.MIndex() >= 0 && stride > layout.MIndex() {
			if m := coords[i+layout.MIndex()]; m != 0 {
				t := time.Unix(int64(m), 0).UTC()
				p.Time = &t
			}
		}
		points = append(points, p)
	}
	return points
}
