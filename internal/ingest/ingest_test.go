package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crestline/crestline/internal/model"
)

func elev(v float64) *float64 { return &v }

func TestSummarize_SingleSportScenario(t *testing.T) {
	// Mirrors spec.md §8 scenario 1: 3 timed points, elevation 100/110/115,
	// 60s apart. Expect elevation_gain=15, duration=120s.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t0, t1, t2 := base, base.Add(60*time.Second), base.Add(120*time.Second)
	points := []model.Point{
		{Lon: 0, Lat: 0, Elevation: elev(100), Time: &t0},
		{Lon: 0, Lat: 0.001, Elevation: elev(110), Time: &t1},
		{Lon: 0, Lat: 0.002, Elevation: elev(115), Time: &t2},
	}

	c := summarize(points)
	require.Equal(t, 3, c.PointCount)
	require.InDelta(t, 15.0, c.ElevationGainM, 0.001)
	require.Equal(t, 120, c.DurationSec)
	require.Greater(t, c.DistanceM, 0.0)
}

func TestSummarize_IgnoresElevationDrops(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t0, t1 := base, base.Add(60*time.Second)
	points := []model.Point{
		{Lon: 0, Lat: 0, Elevation: elev(100), Time: &t0},
		{Lon: 0, Lat: 0.001, Elevation: elev(90), Time: &t1},
	}

	c := summarize(points)
	require.Equal(t, 0.0, c.ElevationGainM)
}

func TestSummarize_MissingTimestampsLeavesDurationZero(t *testing.T) {
	points := []model.Point{
		{Lon: 0, Lat: 0},
		{Lon: 0, Lat: 0.001},
	}
	c := summarize(points)
	require.Equal(t, 0, c.DurationSec)
}
