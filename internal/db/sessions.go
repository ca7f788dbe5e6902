package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roadcall/backend/internal/models"
	"github.com/roadcall/backend/internal/state"
)

const sessionColumns = `id, request_id, customer_id, worker_id, type, status, plan, scheduled_for,
	created_at, started_at, ended_at, last_activity_at, waiver_signed_at, waiver_reminder_sent_at, metadata`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.RequestID, &s.CustomerID, &s.WorkerID, &s.Type, &s.Status, &s.Plan, &s.ScheduledFor,
		&s.CreatedAt, &s.StartedAt, &s.EndedAt, &s.LastActivityAt, &s.WaiverSignedAt, &s.WaiverReminderSentAt, &s.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sessions (id, request_id, customer_id, worker_id, type, status, plan, scheduled_for,
			created_at, last_activity_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sess.ID, sess.RequestID, sess.CustomerID, sess.WorkerID, sess.Type, sess.Status, sess.Plan,
		sess.ScheduledFor, sess.CreatedAt, sess.LastActivityAt, sess.Metadata)
	return mapSessionConstraint(err)
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// LatestNonTerminalSessionForCustomer returns the customer's most recent open
// session, or nil when the claim should materialize a fresh one.
func (s *Store) LatestNonTerminalSessionForCustomer(ctx context.Context, customerID string) (*models.Session, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE customer_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`, customerID, sessionStatusList(state.NonTerminalSessionStatuses()))
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// AttachWorker binds the claim winner to a pending or scheduled session and
// moves it to waiting. Conditional on the pre-state so a stale claim cannot
// overwrite a session that has already progressed. Surfaces
// ErrWorkerHasActiveSession when the one-active-session index rejects the
// worker.
func (s *Store) AttachWorker(ctx context.Context, sessionID, requestID, workerID string, now time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions
		SET worker_id = $3, request_id = $2, status = 'waiting', last_activity_at = $4
		WHERE id = $1 AND status IN ('pending', 'scheduled') AND worker_id IS NULL
	`, sessionID, requestID, workerID, now)
	if err != nil {
		return false, mapSessionConstraint(err)
	}
	return tag.RowsAffected() == 1, nil
}

// StartSession moves a waiting session to live and stamps started_at once.
func (s *Store) StartSession(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'live', started_at = COALESCE(started_at, $2), last_activity_at = $2
		WHERE id = $1 AND status = 'waiting'
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteSession closes a live session normally.
func (s *Store) CompleteSession(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed', ended_at = COALESCE(ended_at, $2)
		WHERE id = $1 AND status = 'live'
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelSession cancels any non-terminal session and records the structured
// end reason in metadata.
func (s *Store) CancelSession(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'cancelled',
			ended_at = COALESCE(ended_at, $3),
			metadata = metadata || jsonb_build_object('end_reason', $2::text)
		WHERE id = $1 AND status = ANY($4)
	`, id, reason, now, sessionStatusList(state.NonTerminalSessionStatuses()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TouchSessionActivity bumps the abandonment clock for an open session.
func (s *Store) TouchSessionActivity(ctx context.Context, id string, now time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2
		WHERE id = $1 AND status = ANY($3)
	`, id, now, sessionStatusList(state.NonTerminalSessionStatuses()))
	return err
}

// SignWaiver records the customer's waiver signature on an open session.
func (s *Store) SignWaiver(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions
		SET waiver_signed_at = COALESCE(waiver_signed_at, $2)
		WHERE id = $1 AND status = ANY($3)
	`, id, now, sessionStatusList(state.NonTerminalSessionStatuses()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
