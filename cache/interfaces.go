// Package cache provides TTL-based caching for filtered segment-leaderboard
// query results, with per-segment scoping so a new personal record can
// invalidate just that segment's entries instead of waiting out the TTL.
package cache

import (
	"encoding/json"
	"time"
)

// Entry is one cached response body plus the time it was written, the only
// metadata Read needs to judge freshness against a caller-supplied maxAge.
type Entry struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Body      json.RawMessage `json:"body"`
}
