// Package matcher scores a candidate activity track against a segment's
// geometry: direction, coverage, and multi-sport type filtering. Candidate
// generation (the spatial index lookup) lives in internal/store; everything
// here runs over an in-memory point buffer with no suspension points, per
// SPEC_FULL.md §5.
package matcher

import (
	"math"
	"time"

	"github.com/crestline/crestline/internal/model"
)

type Config struct {
	ToleranceMeters   float64
	CoverageThreshold float64
}

// Match is an emitted segment-effort candidate, ready for the effort store
// once the caller resolves activity/user identifiers.
type Match struct {
	StartedAt     time.Time
	ElapsedSec    float64
	StartFraction float64
	EndFraction   float64
}

// Reason explains why a candidate track did not produce an effort — purely
// informational, surfaced in worker logs; callers should treat !ok as "skip"
// regardless of which reason fired.
type Reason string

const (
	ReasonNoCoverage        Reason = "no_coverage"
	ReasonWrongDirection    Reason = "wrong_direction"
	ReasonInsufficientSpan  Reason = "insufficient_coverage"
	ReasonTypeMismatch      Reason = "type_mismatch"
	ReasonMissingTimestamps Reason = "missing_timestamps"
)

// MatchAll scores trackPoints (the full, ordered track belonging to
// activity) against segment and returns one Match per disjoint run of the
// track that stays within tolerance of the segment's geometry, direction
// agrees, and the active activity type at the run's midpoint equals the
// segment's required type. A track that crosses the same segment twice —
// leaves tolerance and later re-enters it — produces two independent runs
// and therefore up to two Matches, per spec.md §4.5's edge case. It returns
// ok=false (no error, plus the last Reason seen) only when every run was
// rejected or no track point came within tolerance of the segment at all —
// the expected outcome for most candidates.
func MatchAll(segment model.Segment, trackPoints []model.Point, activity model.Activity, cfg Config) ([]Match, Reason, bool) {
	if len(segment.Points) < 2 || len(trackPoints) < 2 {
		return nil, ReasonNoCoverage, false
	}

	ranges := findCoveringRanges(segment.Points, trackPoints, cfg.ToleranceMeters)
	if len(ranges) == 0 {
		return nil, ReasonNoCoverage, false
	}

	var matches []Match
	lastReason := ReasonNoCoverage
	for _, rg := range ranges {
		m, reason, ok := matchRange(segment, trackPoints, activity, cfg, rg.start, rg.end)
		if !ok {
			lastReason = reason
			continue
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return nil, lastReason, false
	}
	return matches, "", true
}

// matchRange evaluates a single candidate span [startIdx, endIdx] of
// trackPoints against segment, applying the direction, coverage, type, and
// timestamp checks spec.md §4.5 steps 2-4 describe.
func matchRange(segment model.Segment, trackPoints []model.Point, activity model.Activity, cfg Config, startIdx, endIdx int) (Match, Reason, bool) {
	span := trackPoints[startIdx : endIdx+1]
	if len(span) < 2 {
		return Match{}, ReasonNoCoverage, false
	}

	if !directionAgrees(segment.Points, span) {
		return Match{}, ReasonWrongDirection, false
	}

	coverage := coverageFraction(segment.Points, span, cfg.ToleranceMeters)
	if coverage < cfg.CoverageThreshold {
		return Match{}, ReasonInsufficientSpan, false
	}

	midTime, ok := interpolateMidpointTime(trackPoints, startIdx, endIdx)
	if !ok {
		return Match{}, ReasonMissingTimestamps, false
	}
	activeType, ok := activity.ActivityTypeAt(midTime)
	if !ok || activeType != segment.ActivityTypeID {
		return Match{}, ReasonTypeMismatch, false
	}

	first, last := span[0], span[len(span)-1]
	if first.Time == nil || last.Time == nil {
		// Timestamps are required to compute elapsed time; a track missing
		// them for the matched span can't produce an effort.
		return Match{}, ReasonMissingTimestamps, false
	}

	n := len(trackPoints) - 1
	startFrac, endFrac := 0.0, 1.0
	if n > 0 {
		startFrac = float64(startIdx) / float64(n)
		endFrac = float64(endIdx) / float64(n)
	}

	return Match{
		StartedAt:     *first.Time,
		ElapsedSec:    last.Time.Sub(*first.Time).Seconds(),
		StartFraction: startFrac,
		EndFraction:   endFrac,
	}, "", true
}

// interpolateMidpointTime converts the matched span's midpoint (a fractional
// track index) into a timestamp by linearly interpolating between the two
// surrounding track points' times, per spec.md §4.5 step 3.
func interpolateMidpointTime(trackPoints []model.Point, startIdx, endIdx int) (time.Time, bool) {
	midFrac := float64(startIdx+endIdx) / 2.0
	lo := int(math.Floor(midFrac))
	hi := int(math.Ceil(midFrac))
	if lo < 0 || hi >= len(trackPoints) {
		return time.Time{}, false
	}
	loPt, hiPt := trackPoints[lo], trackPoints[hi]
	if loPt.Time == nil {
		return time.Time{}, false
	}
	if lo == hi {
		return *loPt.Time, true
	}
	if hiPt.Time == nil {
		return time.Time{}, false
	}
	frac := midFrac - float64(lo)
	delta := hiPt.Time.Sub(*loPt.Time)
	return loPt.Time.Add(time.Duration(float64(delta) * frac)), true
}

// indexRange is a contiguous run of track indices that stayed within
// tolerance of the segment's polyline.
type indexRange struct {
	start, end int
}

// findCoveringRanges walks the track and returns every disjoint run of
// points that stays within toleranceMeters of the segment's polyline. A
// track that passes near the segment, moves away, and later passes near it
// again yields two ranges rather than one run spanning the gap — this is
// what lets a double crossing of the same segment produce two efforts.
func findCoveringRanges(segmentPoints, trackPoints []model.Point, toleranceMeters float64) []indexRange {
	var ranges []indexRange
	start := -1
	for i, p := range trackPoints {
		within := minDistanceToPolyline(p, segmentPoints) <= toleranceMeters
		if within {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			ranges = append(ranges, indexRange{start: start, end: i - 1})
			start = -1
		}
	}
	if start != -1 {
		ranges = append(ranges, indexRange{start: start, end: len(trackPoints) - 1})
	}
	return ranges
}

func minDistanceToPolyline(p model.Point, polyline []model.Point) float64 {
	best := math.Inf(1)
	for i := 0; i+1 < len(polyline); i++ {
		d := distancePointToSegment(p, polyline[i], polyline[i+1])
		if d < best {
			best = d
		}
	}
	return best
}

// distancePointToSegment approximates distance in meters using an
// equirectangular projection — adequate at segment/trail scale (tens of
// kilometers), where a full geodesic calculation wouldn't change the
// tolerance comparison.
func distancePointToSegment(p, a, b model.Point) float64 {
	toXY := func(pt model.Point) (float64, float64) {
		const metersPerDegreeLat = 111320.0
		lat := pt.Lat * math.Pi / 180
		x := pt.Lon * metersPerDegreeLat * math.Cos(lat)
		y := pt.Lat * metersPerDegreeLat
		return x, y
	}
	px, py := toXY(p)
	ax, ay := toXY(a)
	bx, by := toXY(b)

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	projX, projY := ax+t*dx, ay+t*dy
	return math.Hypot(px-projX, py-projY)
}

// directionAgrees checks the dot product of the segment's overall tangent
// and the candidate span's overall tangent; a negative dot product means
// the track traversed the segment backwards.
func directionAgrees(segmentPoints, span []model.Point) bool {
	sx, sy := tangent(segmentPoints[0], segmentPoints[len(segmentPoints)-1])
	tx, ty := tangent(span[0], span[len(span)-1])
	dot := sx*tx + sy*ty
	return dot > 0
}

func tangent(a, b model.Point) (float64, float64) {
	return b.Lon - a.Lon, b.Lat - a.Lat
}

// coverageFraction is the fraction of the segment's length whose nearest
// track point falls within tolerance, sampled at each segment vertex.
func coverageFraction(segmentPoints, span []model.Point, toleranceMeters float64) float64 {
	if len(segmentPoints) == 0 {
		return 0
	}
	covered := 0
	for _, sp := range segmentPoints {
		if minDistanceToPolyline(sp, span) <= toleranceMeters {
			covered++
		}
	}
	return float64(covered) / float64(len(segmentPoints))
}
