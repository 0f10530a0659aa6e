package matcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crestline/crestline/internal/model"
)

func pt(lon, lat float64, t time.Time) model.Point {
	tt := t
	return model.Point{Lon: lon, Lat: lat, Time: &tt}
}

func straightTrack(base time.Time, n int, stepSec int) []model.Point {
	points := make([]model.Point, n)
	for i := 0; i < n; i++ {
		// roughly 0.001 deg per step north; coincides with the scenario in
		// spec.md §8 test 1/2.
		points[i] = pt(0, float64(i)*0.001, base.Add(time.Duration(i*stepSec)*time.Second))
	}
	return points
}

func TestMatch_SingleSportEmitsEffort(t *testing.T) {
	runType := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	track := straightTrack(base, 3, 60) // matches scenario 1 of spec.md §8

	seg := model.Segment{
		ActivityTypeID: runType,
		Points: []model.Point{
			{Lon: 0, Lat: 0},
			{Lon: 0, Lat: 0.002},
		},
	}
	activity := model.Activity{ActivityTypeID: runType}

	matches, reason, ok := MatchAll(seg, track, activity, Config{ToleranceMeters: 50, CoverageThreshold: 0.9})
	require.True(t, ok, "reason: %s", reason)
	require.Len(t, matches, 1)
	m := matches[0]
	require.InDelta(t, 120.0, m.ElapsedSec, 0.01)
	require.InDelta(t, 0.0, m.StartFraction, 0.01)
	require.InDelta(t, 1.0, m.EndFraction, 0.01)
}

func TestMatch_WrongDirectionRejected(t *testing.T) {
	runType := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Track travels north-to-south; segment is defined south-to-north.
	track := []model.Point{
		pt(0, 0.002, base),
		pt(0, 0.001, base.Add(60*time.Second)),
		pt(0, 0, base.Add(120*time.Second)),
	}
	seg := model.Segment{
		ActivityTypeID: runType,
		Points:         []model.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 0.002}},
	}
	activity := model.Activity{ActivityTypeID: runType}

	_, reason, ok := MatchAll(seg, track, activity, Config{ToleranceMeters: 50, CoverageThreshold: 0.9})
	require.False(t, ok)
	require.Equal(t, ReasonWrongDirection, reason)
}

func TestMatch_MultiSportTypeWindowFilters(t *testing.T) {
	mtbType, runType := uuid.New(), uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	track := straightTrack(base, 3, 60) // spans t0..t0+120

	seg := model.Segment{
		ActivityTypeID: runType,
		Points:         []model.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 0.002}},
	}

	// midpoint (t0+60) falls in the run window [t0+30, t0+120) -> matches.
	runLater := model.Activity{
		TypeBoundaries: []time.Time{base, base.Add(30 * time.Second), base.Add(120 * time.Second)},
		SegmentTypes:   []uuid.UUID{mtbType, runType},
	}
	_, reason, ok := MatchAll(seg, track, runLater, Config{ToleranceMeters: 50, CoverageThreshold: 0.9})
	require.True(t, ok, "reason: %s", reason)

	// Flip the windows: midpoint now falls in the mtb window -> no effort.
	mtbLater := model.Activity{
		TypeBoundaries: []time.Time{base, base.Add(30 * time.Second), base.Add(120 * time.Second)},
		SegmentTypes:   []uuid.UUID{runType, mtbType},
	}
	_, reason, ok = MatchAll(seg, track, mtbLater, Config{ToleranceMeters: 50, CoverageThreshold: 0.9})
	require.False(t, ok)
	require.Equal(t, ReasonTypeMismatch, reason)
}

func TestMatch_MissingTimestampsRejected(t *testing.T) {
	runType := uuid.New()
	track := []model.Point{
		{Lon: 0, Lat: 0},
		{Lon: 0, Lat: 0.001},
		{Lon: 0, Lat: 0.002},
	}
	seg := model.Segment{
		ActivityTypeID: runType,
		Points:         []model.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 0.002}},
	}
	activity := model.Activity{ActivityTypeID: runType}

	_, reason, ok := MatchAll(seg, track, activity, Config{ToleranceMeters: 50, CoverageThreshold: 0.9})
	require.False(t, ok)
	require.Equal(t, ReasonMissingTimestamps, reason)
}

func TestMatch_LowCoverageRejected(t *testing.T) {
	runType := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Track only grazes the first third of a much longer segment.
	track := []model.Point{
		pt(0, 0, base),
		pt(0, 0.0002, base.Add(60*time.Second)),
	}
	seg := model.Segment{
		ActivityTypeID: runType,
		Points: []model.Point{
			{Lon: 0, Lat: 0},
			{Lon: 0, Lat: 0.0005},
			{Lon: 0, Lat: 0.01},
		},
	}
	activity := model.Activity{ActivityTypeID: runType}

	_, reason, ok := MatchAll(seg, track, activity, Config{ToleranceMeters: 50, CoverageThreshold: 0.9})
	require.False(t, ok)
	require.Equal(t, ReasonInsufficientSpan, reason)
}

func TestMatchAll_RerunIsDeterministic(t *testing.T) {
	// Re-running the matcher over the same track/segment pair must be
	// deterministic — same input, same output, per spec.md §8 round-trip law.
	runType := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	track := straightTrack(base, 3, 60)
	seg := model.Segment{
		ActivityTypeID: runType,
		Points:         []model.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 0.002}},
	}
	activity := model.Activity{ActivityTypeID: runType}
	cfg := Config{ToleranceMeters: 50, CoverageThreshold: 0.9}

	m1, _, ok1 := MatchAll(seg, track, activity, cfg)
	m2, _, ok2 := MatchAll(seg, track, activity, cfg)
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, m1, m2)
}

func TestMatchAll_DoubleCrossingEmitsTwoMatches(t *testing.T) {
	// A track that passes the segment, loops far away, then passes it again
	// must yield two independent efforts, per spec.md §9's "a track that
	// crosses the same segment twice produces two efforts" edge case.
	runType := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seg := model.Segment{
		ActivityTypeID: runType,
		Points:         []model.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 0.002}},
	}
	activity := model.Activity{ActivityTypeID: runType}

	track := []model.Point{
		pt(0, 0, base),
		pt(0, 0.001, base.Add(60*time.Second)),
		pt(0, 0.002, base.Add(120*time.Second)),
		pt(0.5, 0.5, base.Add(180*time.Second)),
		pt(0.5, 0.5, base.Add(240*time.Second)),
		pt(0, 0, base.Add(300*time.Second)),
		pt(0, 0.001, base.Add(360*time.Second)),
		pt(0, 0.002, base.Add(420*time.Second)),
	}

	matches, reason, ok := MatchAll(seg, track, activity, Config{ToleranceMeters: 50, CoverageThreshold: 0.9})
	require.True(t, ok, "reason: %s", reason)
	require.Len(t, matches, 2)
	require.InDelta(t, 120.0, matches[0].ElapsedSec, 0.01)
	require.InDelta(t, 120.0, matches[1].ElapsedSec, 0.01)
	require.NotEqual(t, matches[0].StartFraction, matches[1].StartFraction)
}
