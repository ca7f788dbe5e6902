package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roadcall/backend/internal/models"
	"github.com/roadcall/backend/internal/state"
)

const requestColumns = `id, customer_id, service_type, plan_code, requested_brand, restricted_brands,
	urgency, concern, status, created_at, accepted_at, reoffered_at, worker_id, parent_session_id`

func scanRequest(row pgx.Row) (*models.Request, error) {
	var r models.Request
	err := row.Scan(
		&r.ID, &r.CustomerID, &r.ServiceType, &r.PlanCode, &r.RequestedBrand, &r.RestrictedBrands,
		&r.Urgency, &r.Concern, &r.Status, &r.CreatedAt, &r.AcceptedAt, &r.ReofferedAt, &r.WorkerID, &r.ParentSessionID,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *models.Request) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO requests (id, customer_id, service_type, plan_code, requested_brand, restricted_brands,
			urgency, concern, status, created_at, parent_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.CustomerID, r.ServiceType, r.PlanCode, r.RequestedBrand, r.RestrictedBrands,
		r.Urgency, r.Concern, r.Status, r.CreatedAt, r.ParentSessionID)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *Store) ListRequests(ctx context.Context, status string, limit, offset int) ([]models.Request, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	var args []any
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ClaimRequest is the race-safe accept: the conditional update succeeds for
// exactly one concurrent caller. A false return means someone else already
// moved the request.
func (s *Store) ClaimRequest(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE requests
		SET status = 'accepted', worker_id = $2, accepted_at = $3
		WHERE id = $1 AND status = ANY($4) AND worker_id IS NULL
	`, id, workerID, now, requestStatusList(state.ClaimableRequestStatuses()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelRequest conditionally moves a claimable request to cancelled. It
// competes with claims and sweeps under the same conditional-write
// discipline; a false return means the request already left the allowed set.
func (s *Store) CancelRequest(ctx context.Context, id string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE requests
		SET status = 'cancelled'
		WHERE id = $1 AND status = ANY($2)
	`, id, requestStatusList(state.ClaimableRequestStatuses()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// HasOpenRequest reports whether the customer already has a claimable
// request, used by intake to enforce one lifecycle per customer.
func (s *Store) HasOpenRequest(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM requests WHERE customer_id = $1 AND status = ANY($2)
		)
	`, customerID, requestStatusList(state.ClaimableRequestStatuses())).Scan(&exists)
	return exists, err
}

// MarkUnattendedRequests flags pending requests older than the cutoff as
// unattended (still claimable). The clock restarts at reoffered_at for
// reconciled requests. Conditional on the pre-state, so a double run is a
// no-op.
func (s *Store) MarkUnattendedRequests(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.updateReturningIDs(ctx, `
		UPDATE requests
		SET status = 'unattended'
		WHERE status = 'pending' AND worker_id IS NULL
		  AND COALESCE(reoffered_at, created_at) < $1
		RETURNING id
	`, cutoff)
}

// ExpireUnattendedRequests retires unattended requests past the longer
// ceiling. Terminal: the customer is prompted to retry.
func (s *Store) ExpireUnattendedRequests(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.updateReturningIDs(ctx, `
		UPDATE requests
		SET status = 'expired'
		WHERE status = 'unattended' AND worker_id IS NULL
		  AND COALESCE(reoffered_at, created_at) < $1
		RETURNING id
	`, cutoff)
}

// ResetStaleAcceptedRequests is the reconciliation repair path: an accepted
// request whose session never materialized (or is already terminal) goes
// back to pending with the worker cleared. reoffered_at restarts the
// unattended clock so the request gets a full claim window again. This
// intentionally bypasses the public transition table; the conditional
// predicate keeps it safe against concurrent claims.
func (s *Store) ResetStaleAcceptedRequests(ctx context.Context, cutoff time.Time) ([]string, error) {
	nonTerminal := sessionStatusList(state.NonTerminalSessionStatuses())
	return s.updateReturningIDs(ctx, `
		UPDATE requests r
		SET status = 'pending', worker_id = NULL, accepted_at = NULL, reoffered_at = now()
		WHERE r.status = 'accepted' AND r.accepted_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.request_id = r.id AND s.status = ANY($2)
		  )
		RETURNING r.id
	`, cutoff, nonTerminal)
}

func (s *Store) updateReturningIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requestStatusList(statuses []state.RequestStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}

func sessionStatusList(statuses []state.SessionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}
