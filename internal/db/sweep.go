package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roadcall/backend/internal/models"
)

// ExpireScheduledNoShows retires scheduled sessions whose start time plus
// grace has passed with the waiver still unsigned. A signed waiver means the
// customer showed up; that session waits for its worker instead of expiring.
func (s *Store) ExpireScheduledNoShows(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	return s.updateReturningIDs(ctx, `
		UPDATE sessions
		SET status = 'expired',
			ended_at = COALESCE(ended_at, now()),
			metadata = metadata || jsonb_build_object('end_reason', $2::text)
		WHERE status = 'scheduled' AND scheduled_for < $1 AND waiver_signed_at IS NULL
		RETURNING id
	`, cutoff, reason)
}

// ExpireAbandonedSessions retires pending, waiting and live sessions with no
// activity since the cutoff. created_at stands in when last_activity_at was
// never set.
func (s *Store) ExpireAbandonedSessions(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	return s.updateReturningIDs(ctx, `
		UPDATE sessions
		SET status = 'expired',
			ended_at = COALESCE(ended_at, now()),
			metadata = metadata || jsonb_build_object('end_reason', $2::text)
		WHERE status IN ('pending', 'waiting', 'live')
		  AND COALESCE(last_activity_at, created_at) < $1
		RETURNING id
	`, cutoff, reason)
}

// CancelSessionsForEndedRequests cancels worker-less intake sessions whose
// request is already terminal. Without this a stale intake session would
// block the customer's next request forever.
func (s *Store) CancelSessionsForEndedRequests(ctx context.Context, reason string) ([]string, error) {
	return s.updateReturningIDs(ctx, `
		UPDATE sessions se
		SET status = 'cancelled',
			ended_at = COALESCE(ended_at, now()),
			metadata = metadata || jsonb_build_object('end_reason', $1::text)
		WHERE se.status IN ('pending', 'scheduled') AND se.worker_id IS NULL
		  AND EXISTS (
			SELECT 1 FROM requests r
			WHERE r.id = se.request_id AND r.status IN ('cancelled', 'expired')
		  )
		RETURNING se.id
	`, reason)
}

// ExpireOverlongSessions retires live sessions that started before the
// cutoff and were never completed by either side.
func (s *Store) ExpireOverlongSessions(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	return s.updateReturningIDs(ctx, `
		UPDATE sessions
		SET status = 'expired',
			ended_at = COALESCE(ended_at, now()),
			metadata = metadata || jsonb_build_object('end_reason', $2::text)
		WHERE status = 'live' AND started_at < $1
		RETURNING id
	`, cutoff, reason)
}

// WaiverRemindersDue lists scheduled sessions starting before the horizon
// whose waiver is unsigned and unreminded.
func (s *Store) WaiverRemindersDue(ctx context.Context, horizon time.Time) ([]models.Session, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'scheduled'
		  AND scheduled_for <= $1
		  AND waiver_signed_at IS NULL
		  AND waiver_reminder_sent_at IS NULL
	`, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *Store) MarkWaiverReminderSent(ctx context.Context, id string, now time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET waiver_reminder_sent_at = $2
		WHERE id = $1 AND waiver_reminder_sent_at IS NULL
	`, id, now)
	return err
}

// ReleaseExpiredReservations frees scheduling holds that were never confirmed
// before their expiry.
func (s *Store) ReleaseExpiredReservations(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE slot_reservations
		SET status = 'expired'
		WHERE status = 'reserved' AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CreateSweepRun opens an audit row for a sweeper pass and returns its id.
func (s *Store) CreateSweepRun(ctx context.Context, startedAt time.Time) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO sweep_runs (started_at, status) VALUES ($1, 'running')
		RETURNING id
	`, startedAt).Scan(&id)
	return id, err
}

// FinishSweepRun closes the audit row with the run outcome and its summary.
func (s *Store) FinishSweepRun(ctx context.Context, id, status string, summary models.SweepSummary, finishedAt time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sweep_runs SET finished_at = $2, status = $3, summary = $4
		WHERE id = $1
	`, id, finishedAt, status, summary)
	return err
}

func (s *Store) GetLatestSweepRun(ctx context.Context) (*models.SweepRun, error) {
	var run models.SweepRun
	err := s.Pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, status, summary
		FROM sweep_runs ORDER BY started_at DESC LIMIT 1
	`).Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
