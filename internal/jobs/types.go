// Package jobs defines the durable work-queue task registry, built on
// github.com/hibiken/asynq over Redis, with one handler per ingestion
// pipeline step per SPEC_FULL.md §4.3.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/xid"

	"github.com/crestline/crestline/internal/apperr"
)

const (
	// TaskProcessActivity decodes, persists, matches, and scores a freshly
	// uploaded activity. Enqueued only after the activity row's insert
	// transaction commits — see internal/ingest's ordering contract.
	TaskProcessActivity = "activity:process"

	// TaskReconcileCounters recomputes denormalized follower/member counts
	// from their source junction tables, correcting any drift from the
	// incremental update path. Registered as a periodic job via
	// asynq.NewScheduler (built on github.com/robfig/cron/v3).
	TaskReconcileCounters = "counters:reconcile"

	// TaskSendNotification delivers one already-persisted notification to
	// its recipient. The core only enqueues; actual delivery is an external
	// collaborator per spec.md §1.
	TaskSendNotification = "notification:send"

	// TaskReconcileAchievement recomputes the active KOM/QOM/Local-Legend
	// holder for one (segment, kind) pair. internal/achievement.Dispatcher
	// assigns every pair to one of a fixed set of partition queues; these
	// tasks are routed through asynq.Queue(partition), and cmd/worker runs
	// at most one task per partition at a time, so concurrent
	// reconciliations for the same segment never race each other.
	TaskReconcileAchievement = "achievement:reconcile"
)

type ProcessActivityPayload struct {
	ActivityID uuid.UUID `json:"activity_id"`
}

type ReconcileCountersPayload struct{}

type SendNotificationPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

type ReconcileAchievementPayload struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Kind      string    `json:"kind"`
}

// DefaultLeaseSeconds is the 60s default job lease spec.md §5 names. No
// task option or server setting in this repository passes it to asynq, so
// tasks run under asynq's own default timeout, not this value, and no lease
// is renewed.
const DefaultLeaseSeconds = 60

// Enqueuer wraps an asynq.Client with the typed task constructors this
// package exposes, so callers never hand-build task names or payloads.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(redisAddr string) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (e *Enqueuer) Close() error { return e.client.Close() }

// EnqueueProcessActivity durably enqueues the ingestion job. Job ids are
// minted with github.com/rs/xid — lexically sortable and cheap to generate
// per enqueue.
func (e *Enqueuer) EnqueueProcessActivity(activityID uuid.UUID) (string, error) {
	payload, err := json.Marshal(ProcessActivityPayload{ActivityID: activityID})
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "marshal process activity payload", err)
	}
	id := xid.New().String()
	task := asynq.NewTask(TaskProcessActivity, payload, asynq.TaskID(id), asynq.MaxRetry(5))
	if _, err := e.client.Enqueue(task); err != nil {
		return "", apperr.Wrap(apperr.TransientDependency, "enqueue process activity", err)
	}
	return id, nil
}

// EnqueueReconcileAchievement enqueues a reconciliation task onto the named
// partition queue. Callers derive partition via achievement.Dispatcher's
// consistent-hash routing so every (segmentID, kind) pair always lands on
// the same queue.
func (e *Enqueuer) EnqueueReconcileAchievement(segmentID uuid.UUID, kind string, partition string) (string, error) {
	payload, err := json.Marshal(ReconcileAchievementPayload{SegmentID: segmentID, Kind: kind})
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "marshal reconcile achievement payload", err)
	}
	id := xid.New().String()
	task := asynq.NewTask(TaskReconcileAchievement, payload, asynq.TaskID(id), asynq.MaxRetry(5), asynq.Queue(partition))
	if _, err := e.client.Enqueue(task); err != nil {
		return "", apperr.Wrap(apperr.TransientDependency, "enqueue reconcile achievement", err)
	}
	return id, nil
}

func (e *Enqueuer) EnqueueSendNotification(notificationID uuid.UUID, delay time.Duration) (string, error) {
	payload, err := json.Marshal(SendNotificationPayload{NotificationID: notificationID})
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "marshal send notification payload", err)
	}
	id := xid.New().String()
	opts := []asynq.Option{asynq.TaskID(id), asynq.MaxRetry(3)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	task := asynq.NewTask(TaskSendNotification, payload, opts...)
	if _, err := e.client.Enqueue(task); err != nil {
		return "", apperr.Wrap(apperr.TransientDependency, "enqueue send notification", err)
	}
	return id, nil
}
