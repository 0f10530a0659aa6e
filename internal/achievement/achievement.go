// Package achievement reconciles KOM/QOM/Local-Legend ownership whenever a
// new personal record lands on a segment, per spec.md §4.7. Serialization
// per (segment, kind) is provided by Dispatcher's consistent-hash routing,
// not by any lock taken in this package — see internal/jobs for how
// partitions map onto asynq queues.
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"github.com/google/uuid"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
	"github.com/crestline/crestline/internal/store"
)

// localLegendWindow is the rolling window spec.md §9 resolves as "most
// distinct calendar days with an effort, not most efforts, in the trailing
// 90 days".
const localLegendWindow = 90 * 24 * time.Hour

// Dispatcher assigns (segment, kind) reconciliation work to a fixed set of
// named partitions via rendezvous (highest random weight) hashing — the
// same algorithm asynq itself uses for multi-Redis sharding, here promoted
// from an indirect to a direct dependency. Every (segment, kind) pair always
// maps to the same partition, so routing all reconciliation calls through a
// single worker per partition serializes them without row locks.
type Dispatcher struct {
	rv *rendezvous.Rendezvous
}

func NewDispatcher(partitions []string) *Dispatcher {
	return &Dispatcher{rv: rendezvous.New(partitions, xxhash.Sum64String)}
}

// PartitionFor returns the partition name responsible for serializing
// reconciliation of this (segment, kind) pair.
func (d *Dispatcher) PartitionFor(segmentID uuid.UUID, kind model.AchievementKind) string {
	return d.rv.Lookup(segmentID.String() + ":" + string(kind))
}

// Transition describes the outcome of one reconciliation call.
type Transition struct {
	Changed       bool
	NewHolder     uuid.UUID
	OldHolder     uuid.UUID
	HadOldHolder  bool
	Notifications []model.Notification
}

// Reconciler determines and persists the active achievement holder for a
// single (segment, kind) pair. Callers must route every call through a
// Dispatcher-assigned partition so concurrent reconciliations for the same
// segment never race — this type performs no locking of its own.
type Reconciler struct {
	Achievements *store.AchievementStore
	Efforts      *store.EffortStore
}

// Reconcile recomputes the active holder for (segmentID, kind) and, if it
// changed, records the transition and returns the notifications the caller
// should enqueue (crown_achieved to the new holder, crown_lost to the
// displaced one, if any).
func (r *Reconciler) Reconcile(ctx context.Context, segmentID uuid.UUID, kind model.AchievementKind, now time.Time) (Transition, error) {
	newHolderID, newEffortID, ok, err := r.resolveHolder(ctx, segmentID, kind, now)
	if err != nil {
		return Transition{}, err
	}
	if !ok {
		return Transition{}, nil
	}

	current, err := r.Achievements.ActiveHolder(ctx, segmentID, kind)
	hadOld := err == nil
	if err != nil && apperr.KindOf(err) != apperr.NotFound {
		return Transition{}, err
	}

	if hadOld && current.HolderID == newHolderID {
		return Transition{}, nil
	}

	if _, err := r.Achievements.Transition(ctx, segmentID, kind, newHolderID, newEffortID); err != nil {
		return Transition{}, err
	}

	t := Transition{Changed: true, NewHolder: newHolderID, HadOldHolder: hadOld}
	t.Notifications = append(t.Notifications, model.Notification{
		ID:         uuid.New(),
		UserID:     newHolderID,
		Kind:       model.NotificationCrownAchieved,
		TargetType: "segment",
		TargetID:   segmentID,
		CreatedAt:  now,
	})
	if hadOld {
		t.OldHolder = current.HolderID
		t.Notifications = append(t.Notifications, model.Notification{
			ID:         uuid.New(),
			UserID:     current.HolderID,
			Kind:       model.NotificationCrownLost,
			ActorID:    newHolderID,
			TargetType: "segment",
			TargetID:   segmentID,
			CreatedAt:  now,
		})
	}
	return t, nil
}

// resolveHolder determines the would-be active holder and an anchoring
// effort id for a kind, returning ok=false if no one qualifies yet (e.g. a
// brand new segment with no efforts from either gender).
func (r *Reconciler) resolveHolder(ctx context.Context, segmentID uuid.UUID, kind model.AchievementKind, now time.Time) (uuid.UUID, uuid.UUID, bool, error) {
	switch kind {
	case model.AchievementKOM:
		e, ok, err := r.Efforts.FastestForGender(ctx, segmentID, model.GenderMale)
		if err != nil || !ok {
			return uuid.Nil, uuid.Nil, false, err
		}
		return e.UserID, e.ID, true, nil
	case model.AchievementQOM:
		e, ok, err := r.Efforts.FastestForGender(ctx, segmentID, model.GenderFemale)
		if err != nil || !ok {
			return uuid.Nil, uuid.Nil, false, err
		}
		return e.UserID, e.ID, true, nil
	case model.AchievementLocalLegend:
		c, ok, err := r.Efforts.LocalLegendLeader(ctx, segmentID, localLegendWindow, now)
		if err != nil || !ok {
			return uuid.Nil, uuid.Nil, false, err
		}
		// Local Legend is a rolling aggregate over many efforts, not a
		// single traversal, but the achievements table's effort_id column
		// needs a concrete anchor — use the leader's most recent effort.
		eff, ok, err := r.Efforts.LatestForUser(ctx, segmentID, c.UserID)
		if err != nil || !ok {
			return uuid.Nil, uuid.Nil, false, err
		}
		return c.UserID, eff.ID, true, nil
	default:
		return uuid.Nil, uuid.Nil, false, fmt.Errorf("unknown achievement kind %q", kind)
	}
}
