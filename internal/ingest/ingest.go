// Package ingest implements the ingestion worker's processing pipeline:
// decode → persist track → match segments → score efforts → reconcile
// achievements → enqueue notifications, per spec.md §4.4. The handler is
// designed to be called from an asynq.ServeMux entry in cmd/worker; every
// step is idempotent so a lease expiry and retry reproduces the same
// effort set rather than duplicating it.
package ingest

import (
	"bytes"
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/crestline/cache"
	"github.com/crestline/crestline/internal/achievement"
	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/blob"
	"github.com/crestline/crestline/internal/decoder"
	"github.com/crestline/crestline/internal/jobs"
	"github.com/crestline/crestline/internal/matcher"
	"github.com/crestline/crestline/internal/model"
	"github.com/crestline/crestline/internal/store"
)

// Pipeline bundles everything ProcessActivity needs to run one activity
// through the full ingestion sequence. Achievement reconciliation itself
// happens out of line: Pipeline only dispatches a reconcile task onto the
// Dispatcher-assigned partition queue, and cmd/worker's achievement:reconcile
// handler owns calling Reconciler.Reconcile.
type Pipeline struct {
	Store      *store.Store
	Blobs      blob.Store
	Enqueuer   *jobs.Enqueuer
	Dispatcher *achievement.Dispatcher
	MatcherCfg matcher.Config

	// LeaderboardCache is dropped for a segment whenever a newly inserted
	// effort changes that segment's personal-record standings. Nil is a
	// valid zero value — invalidation is then skipped, not an error, so a
	// worker deployment that doesn't share a filesystem with the API's
	// cache can simply leave this unset and rely on the cache's own TTL.
	LeaderboardCache *cache.FileCache
}

// ProcessActivity runs spec.md §4.4's eight-step sequence for one activity.
// A missing or already-processed activity is a successful no-op (steps 1,
// 4 idempotency); a decode failure marks the activity failed and succeeds
// the job without scheduling a retry (step 3); every other failure is
// returned so the caller's queue retries it.
func (p *Pipeline) ProcessActivity(ctx context.Context, activityID uuid.UUID) error {
	activity, err := p.Store.Activities.Get(ctx, activityID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil
		}
		return err
	}
	if activity.Status == model.ActivityStatusProcessed || activity.Status == model.ActivityStatusFailed {
		return nil
	}

	raw, err := p.Blobs.Get(ctx, blob.ActivityObjectKey(activityID, activity.FileFormat))
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			// The activity row committed before the blob upload finished
			// propagating — the exact race spec.md §4.4 calls out. Treat as
			// transient so the lease renews and a later attempt finds it.
			return apperr.New(apperr.TransientDependency, "activity raw file not yet visible")
		}
		return err
	}

	track, err := decoder.Decode(decoder.Format(activity.FileFormat), bytes.NewReader(raw))
	if err != nil {
		if apperr.KindOf(err) == apperr.InvalidInput {
			if ferr := p.Store.Activities.MarkFailed(ctx, activityID, err.Error()); ferr != nil {
				return ferr
			}
			return nil
		}
		return err
	}

	if err := p.Store.Trajectories.Put(ctx, activityID, track.Points); err != nil {
		return err
	}
	counters := summarize(track.Points)
	activity.PointCount = counters.PointCount
	activity.DistanceM = counters.DistanceM
	activity.ElevationGainM = counters.ElevationGainM
	activity.DurationSec = counters.DurationSec
	activity.Status = model.ActivityStatusProcessed

	changedPRs, err := p.matchAndScore(ctx, activity, track.Points)
	if err != nil {
		return err
	}
	if err := p.reconcileAndNotify(ctx, changedPRs); err != nil {
		return err
	}

	// The processed status is written last, so a retry after a crash
	// anywhere above runs matching again instead of returning early.
	return p.Store.Activities.CommitProcessed(ctx, activityID, counters)
}

func (p *Pipeline) matchAndScore(ctx context.Context, activity model.Activity, points []model.Point) ([]model.SegmentEffort, error) {
	segmentIDs, err := p.Store.Segments.NearRoute(ctx, activity.ID, p.MatcherCfg.ToleranceMeters)
	if err != nil {
		return nil, err
	}

	var changedPRs []model.SegmentEffort
	for _, segID := range segmentIDs {
		seg, err := p.Store.Segments.Get(ctx, segID)
		if err != nil {
			return nil, err
		}

		matches, _, ok := matcher.MatchAll(seg, points, activity, p.MatcherCfg)
		if !ok {
			continue
		}

		for _, m := range matches {
			saved, err := p.Store.Efforts.Insert(ctx, model.SegmentEffort{
				ID:            uuid.New(),
				SegmentID:     segID,
				ActivityID:    activity.ID,
				UserID:        activity.OwnerID,
				StartedAt:     m.StartedAt,
				ElapsedSec:    m.ElapsedSec,
				StartFraction: m.StartFraction,
				EndFraction:   m.EndFraction,
			})
			if err != nil {
				return nil, err
			}
			if saved.IsPersonalRecord {
				changedPRs = append(changedPRs, saved)
				if p.LeaderboardCache != nil {
					_ = p.LeaderboardCache.InvalidateSegment(segID.String())
				}
			}
		}
	}
	return changedPRs, nil
}

func (p *Pipeline) reconcileAndNotify(ctx context.Context, changedPRs []model.SegmentEffort) error {
	now := time.Now()
	for _, eff := range changedPRs {
		prNotification := model.Notification{
			ID:         uuid.New(),
			UserID:     eff.UserID,
			Kind:       model.NotificationPersonalRecord,
			TargetType: "segment_effort",
			TargetID:   eff.ID,
			CreatedAt:  now,
		}
		if err := p.Store.Notifications.Append(ctx, prNotification); err != nil {
			return err
		}
		if _, err := p.Enqueuer.EnqueueSendNotification(prNotification.ID, 0); err != nil {
			return err
		}

		for _, kind := range []model.AchievementKind{model.AchievementKOM, model.AchievementQOM, model.AchievementLocalLegend} {
			partition := p.Dispatcher.PartitionFor(eff.SegmentID, kind)
			if _, err := p.Enqueuer.EnqueueReconcileAchievement(eff.SegmentID, string(kind), partition); err != nil {
				return err
			}
		}
	}
	return nil
}

// summarize derives the denormalized activity counters from the decoded
// point stream: cumulative great-circle distance, cumulative positive
// elevation delta, point count, and elapsed wall-clock duration.
func summarize(points []model.Point) store.ActivityCounters {
	var c store.ActivityCounters
	c.PointCount = len(points)
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		c.DistanceM += haversineMeters(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
		if prev.Elevation != nil && cur.Elevation != nil {
			if delta := *cur.Elevation - *prev.Elevation; delta > 0 {
				c.ElevationGainM += delta
			}
		}
	}
	if len(points) > 0 {
		first, last := points[0], points[len(points)-1]
		if first.Time != nil && last.Time != nil {
			c.DurationSec = int(last.Time.Sub(*first.Time).Seconds())
		}
	}
	return c
}

const earthRadiusMeters = 6371000.0

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
