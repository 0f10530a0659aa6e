package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

type TeamStore struct {
	pool *pgxpool.Pool
}

func (s *TeamStore) Create(ctx context.Context, t model.Team) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO teams (id, name, join_policy) VALUES ($1, $2, $3)
	`, t.ID, t.Name, t.JoinPolicy)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert team", err)
	}
	return nil
}

func (s *TeamStore) Get(ctx context.Context, id uuid.UUID) (model.Team, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, join_policy, member_count, created_at FROM teams WHERE id = $1`, id)
	var t model.Team
	if err := row.Scan(&t.ID, &t.Name, &t.JoinPolicy, &t.MemberCount, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.Team{}, apperr.New(apperr.NotFound, "team not found")
		}
		return model.Team{}, apperr.Wrap(apperr.Internal, "scan team", err)
	}
	return t, nil
}

// Join adds a member and increments the denormalized member_count in the
// same transaction; see SPEC_FULL.md §4.9 supplemented-features note.
func (s *TeamStore) Join(ctx context.Context, teamID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin join team", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, teamID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert team member", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE teams SET member_count = member_count + 1 WHERE id = $1`, teamID); err != nil {
			return apperr.Wrap(apperr.Internal, "increment member count", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit join team", err)
	}
	return nil
}

// Leave is the inverse of Join; leaving a team never joined is a no-op.
func (s *TeamStore) Leave(ctx context.Context, teamID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin leave team", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete team member", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE teams SET member_count = GREATEST(member_count - 1, 0) WHERE id = $1`, teamID); err != nil {
			return apperr.Wrap(apperr.Internal, "decrement member count", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "commit leave team", err)
	}
	return nil
}

func (s *TeamStore) IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM team_members WHERE team_id = $1 AND user_id = $2)`, teamID, userID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "check team membership", err)
	}
	return exists, nil
}

// ActivitySharedWithUser reports whether activityID has been shared with any
// team viewer belongs to, for the teams_only branch of visibility.Visible.
func (s *TeamStore) ActivitySharedWithUser(ctx context.Context, activityID, viewer uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM team_activities ta
			JOIN team_members tm ON tm.team_id = ta.team_id
			WHERE ta.activity_id = $1 AND tm.user_id = $2
		)
	`, activityID, viewer).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "check activity team share", err)
	}
	return exists, nil
}

// SegmentSharedWithUser is ActivitySharedWithUser's segment counterpart.
func (s *TeamStore) SegmentSharedWithUser(ctx context.Context, segmentID, viewer uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM team_segments ts
			JOIN team_members tm ON tm.team_id = ts.team_id
			WHERE ts.segment_id = $1 AND tm.user_id = $2
		)
	`, segmentID, viewer).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "check segment team share", err)
	}
	return exists, nil
}

// ShareActivity exposes a teams_only activity to a team's members (a
// private activity stays owner-only even when shared), per SPEC_FULL.md
// §4.9 (supplemented from original_source/).
func (s *TeamStore) ShareActivity(ctx context.Context, teamID, activityID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO team_activities (team_id, activity_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, teamID, activityID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "share activity with team", err)
	}
	return nil
}

// ReconcileMemberCounts recomputes every team's member_count from
// team_members directly, correcting any drift from the incremental Join
// path. Intended to run as the periodic asynq job described in
// SPEC_FULL.md §4.3/§9.
func (s *TeamStore) ReconcileMemberCounts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE teams t SET member_count = (SELECT COUNT(*) FROM team_members tm WHERE tm.team_id = t.id)
		WHERE t.member_count != (SELECT COUNT(*) FROM team_members tm WHERE tm.team_id = t.id)
	`)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "reconcile team member counts", err)
	}
	return nil
}
