// Package store is the PostgreSQL/PostGIS persistence layer: trajectories,
// segments, efforts, achievements, activities, users, teams, and
// notifications all live behind the types in this package.
package store

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxgeom "github.com/twpayne/pgx-geom"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store bundles a connection pool with the sub-stores built on top of it.
// Construct with Open; each sub-store is a thin wrapper sharing the pool.
type Store struct {
	Pool         *pgxpool.Pool
	Trajectories  *TrajectoryStore
	Segments      *SegmentStore
	Efforts       *EffortStore
	Achievements  *AchievementStore
	Activities    *ActivityStore
	Teams         *TeamStore
	Notifications *NotificationStore
	Users         *UserStore
}

// Open connects to Postgres, registers the go-geom codec on every pooled
// connection (grounded on twpayne/pgx-geom's AfterConnect hook pattern), and
// applies pending migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxgeom.Register(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{
		Pool:          pool,
		Trajectories:  &TrajectoryStore{pool: pool},
		Segments:      &SegmentStore{pool: pool},
		Efforts:       &EffortStore{pool: pool},
		Achievements:  &AchievementStore{pool: pool},
		Activities:    &ActivityStore{pool: pool},
		Teams:         &TeamStore{pool: pool},
		Notifications: &NotificationStore{pool: pool},
		Users:         &UserStore{pool: pool},
	}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// migrate applies every embedded *.sql file in lexical order that hasn't run
// yet, tracked in a schema_migrations table. Forward-only, no rollback step.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}
		sql, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}
