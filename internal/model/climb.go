package model

// ClassifyClimb assigns a climb_category automatically from a segment's
// elevation gain and average grade at creation time, per SPEC_FULL.md §4.9's
// supplemented feature — the creator never has to supply one. The banding
// mirrors the classic elevation-gain × average-grade "climb score" used to
// categorize timed climbs: below a 3% average grade a segment is never a
// climb at all, regardless of how much it gains.
func ClassifyClimb(elevationGainM, averageGradePct float64) *int {
	if averageGradePct < 3.0 || elevationGainM <= 0 {
		return nil
	}

	score := elevationGainM * averageGradePct
	var category int
	switch {
	case score >= 8000:
		category = ClimbCategoryHC
	case score >= 6400:
		category = 1
	case score >= 3200:
		category = 2
	case score >= 1600:
		category = 3
	case score >= 800:
		category = 4
	default:
		return nil
	}
	return &category
}
