package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/crestline/crestline/cache"
	"github.com/crestline/crestline/internal/achievement"
	"github.com/crestline/crestline/internal/blob"
	"github.com/crestline/crestline/internal/config"
	"github.com/crestline/crestline/internal/ingest"
	"github.com/crestline/crestline/internal/jobs"
	"github.com/crestline/crestline/internal/matcher"
	"github.com/crestline/crestline/internal/model"
	"github.com/crestline/crestline/internal/store"
)

// reconciliationPartitions names the fixed set of achievement.Dispatcher
// partitions this worker recognizes. A larger deployment would run one
// worker process per partition queue so reconciliation for a given
// (segment, kind) pair always lands on the same process; a single process
// here still exercises the consistent-hash routing, just without the
// cross-process isolation it's meant to buy.
var reconciliationPartitions = []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	blobs, err := blob.Open(ctx, cfg.BlobStoreURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open blob store")
	}
	blobs = blob.NewRateLimited(blobs, cfg.BlobRateLimitPerSec, cfg.BlobRateLimitBurst)

	enqueuer := jobs.NewEnqueuer(cfg.RedisAddr)
	defer enqueuer.Close()

	dispatcher := achievement.NewDispatcher(reconciliationPartitions)
	reconciler := &achievement.Reconciler{
		Achievements: st.Achievements,
		Efforts:      st.Efforts,
	}

	leaderboardCache, err := cache.NewLeaderboardCache()
	if err != nil {
		logger.Warn().Err(err).Msg("open leaderboard cache, invalidation on effort insert disabled")
	}

	pipeline := &ingest.Pipeline{
		Store:            st,
		Blobs:            blobs,
		Enqueuer:         enqueuer,
		Dispatcher:       dispatcher,
		LeaderboardCache: leaderboardCache,
		MatcherCfg: matcher.Config{
			ToleranceMeters:   cfg.Matcher.ToleranceMeters,
			CoverageThreshold: cfg.Matcher.CoverageThreshold,
		},
	}

	queues := map[string]int{"default": 5}
	for _, p := range reconciliationPartitions {
		queues[p] = 1
	}

	// partitionLocks lets at most one achievement:reconcile task per
	// partition run at a time; the server's Concurrency goroutines would
	// otherwise take several tasks off the same partition queue at once.
	partitionLocks := make(map[string]*sync.Mutex, len(reconciliationPartitions))
	for _, p := range reconciliationPartitions {
		partitionLocks[p] = &sync.Mutex{}
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: cfg.WorkerPoolSize,
		Queues:      queues,
	})

	mux := asynq.NewServeMux()

	mux.HandleFunc(jobs.TaskProcessActivity, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.ProcessActivityPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal process activity payload: %w", err)
		}
		start := time.Now()
		err := pipeline.ProcessActivity(ctx, p.ActivityID)
		logger.Info().Str("activity_id", p.ActivityID.String()).Dur("duration", time.Since(start)).Err(err).Msg("process activity")
		return err
	})

	mux.HandleFunc(jobs.TaskSendNotification, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.SendNotificationPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal send notification payload: %w", err)
		}
		// Delivery (push, email, websocket) is an external collaborator per
		// spec.md §1; this core's job is done once the notification row
		// exists, so the handler here only logs the dispatch attempt.
		logger.Info().Str("notification_id", p.NotificationID.String()).Msg("notification dispatched")
		return nil
	})

	mux.HandleFunc(jobs.TaskReconcileCounters, func(ctx context.Context, t *asynq.Task) error {
		if err := st.Users.ReconcileFollowerCounts(ctx); err != nil {
			return fmt.Errorf("reconcile follower counts: %w", err)
		}
		if err := st.Teams.ReconcileMemberCounts(ctx); err != nil {
			return fmt.Errorf("reconcile member counts: %w", err)
		}
		logger.Info().Msg("reconciled denormalized counters")
		return nil
	})

	mux.HandleFunc(jobs.TaskReconcileAchievement, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.ReconcileAchievementPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal reconcile achievement payload: %w", err)
		}
		kind := model.AchievementKind(p.Kind)
		lock := partitionLocks[dispatcher.PartitionFor(p.SegmentID, kind)]
		lock.Lock()
		defer lock.Unlock()
		transition, err := reconciler.Reconcile(ctx, p.SegmentID, kind, time.Now())
		if err != nil {
			return fmt.Errorf("reconcile %s for segment %s: %w", p.Kind, p.SegmentID, err)
		}
		for _, n := range transition.Notifications {
			if err := st.Notifications.Append(ctx, n); err != nil {
				return err
			}
			if _, err := enqueuer.EnqueueSendNotification(n.ID, 0); err != nil {
				return err
			}
		}
		return nil
	})

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	if _, err := scheduler.Register("*/15 * * * *", asynq.NewTask(jobs.TaskReconcileCounters, nil), asynq.Queue("default")); err != nil {
		logger.Fatal().Err(err).Msg("register reconcile schedule")
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Fatal().Err(err).Msg("scheduler run")
		}
	}()

	logger.Info().Int("concurrency", cfg.WorkerPoolSize).Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker run")
	}
}
