package service

import (
	"context"
	"errors"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/roadcall/backend/internal/db"
	"github.com/roadcall/backend/internal/events"
	"github.com/roadcall/backend/internal/models"
	"github.com/roadcall/backend/internal/profiles"
	"github.com/roadcall/backend/internal/state"
)

// LifecycleStore is the persistence surface the coordinator needs. *db.Store
// satisfies it; tests substitute a fake.
type LifecycleStore interface {
	CreateRequest(ctx context.Context, r *models.Request) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	HasOpenRequest(ctx context.Context, customerID string) (bool, error)
	ClaimRequest(ctx context.Context, id, workerID string, now time.Time) (bool, error)
	CancelRequest(ctx context.Context, id string) (bool, error)

	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	LatestNonTerminalSessionForCustomer(ctx context.Context, customerID string) (*models.Session, error)
	AttachWorker(ctx context.Context, sessionID, requestID, workerID string, now time.Time) (bool, error)
	StartSession(ctx context.Context, id string, now time.Time) (bool, error)
	CompleteSession(ctx context.Context, id string, now time.Time) (bool, error)
	CancelSession(ctx context.Context, id, reason string, now time.Time) (bool, error)
}

// Coordinator owns the request lifecycle: intake, the race-safe claim, and
// cancellation. All safety comes from conditional writes in the store; the
// coordinator holds no locks.
type Coordinator struct {
	store     LifecycleStore
	profiles  profiles.Store
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewCoordinator(store LifecycleStore, ps profiles.Store, pub events.Publisher, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		profiles:  ps,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}

// IntakeInput is the validated request-creation payload.
type IntakeInput struct {
	CustomerID       string
	ServiceType      models.ServiceType
	PlanCode         string
	RequestedBrand   string
	RestrictedBrands []string
	Urgency          models.Urgency
	Concern          string
	ScheduledFor     *time.Time
	ParentSessionID  *string
}

// Intake creates a pending request plus its intake session (scheduled when
// a start time is given). One active lifecycle per customer: an open
// request or a non-terminal session blocks a new one.
func (c *Coordinator) Intake(ctx context.Context, in IntakeInput) (*models.Request, error) {
	open, err := c.store.HasOpenRequest(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if !open {
		sess, err := c.store.LatestNonTerminalSessionForCustomer(ctx, in.CustomerID)
		if err != nil {
			return nil, err
		}
		open = sess != nil
	}
	if open {
		return nil, ErrOpenRequestExists
	}

	now := c.now().UTC()
	req := &models.Request{
		ID:               newID("req_"),
		CustomerID:       in.CustomerID,
		ServiceType:      in.ServiceType,
		PlanCode:         in.PlanCode,
		RequestedBrand:   in.RequestedBrand,
		RestrictedBrands: in.RestrictedBrands,
		Urgency:          in.Urgency,
		Concern:          in.Concern,
		Status:           state.RequestPending,
		CreatedAt:        now,
		ParentSessionID:  in.ParentSessionID,
	}
	if err := c.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	status := state.SessionPending
	if in.ScheduledFor != nil {
		status = state.SessionScheduled
	}
	intake := &models.Session{
		ID:             newID("ses_"),
		RequestID:      &req.ID,
		CustomerID:     in.CustomerID,
		Type:           in.ServiceType,
		Status:         status,
		Plan:           in.PlanCode,
		ScheduledFor:   in.ScheduledFor,
		CreatedAt:      now,
		LastActivityAt: &now,
	}
	if err := c.store.CreateSession(ctx, intake); err != nil {
		// the claim path creates a fresh session when none exists, so the
		// request stays usable
		c.logger.Warn().Err(err).Str("request_id", req.ID).Msg("intake session creation failed")
	}

	c.publish(ctx, events.TopicRequestCreated, events.RequestCreated{Request: req})
	return req, nil
}

// ClaimResult is the successful claim outcome.
type ClaimResult struct {
	Request   *models.Request
	SessionID string
}

// Claim is first-writer-wins: one conditional update decides the winner,
// then the winner materializes or adopts the customer's session. The
// database-level one-active-session constraint is the independent second
// net; a violation surfaces as ErrWorkerBusy.
//
// A failure after the request row is claimed leaves the request accepted
// without a usable session. It is left for the sweeper's reconciliation
// pass rather than rolled back here, so the claim itself stays a single
// atomic statement.
func (c *Coordinator) Claim(ctx context.Context, requestID, workerID string) (*ClaimResult, error) {
	profile, err := c.profiles.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrWorkerNotFound
	}
	if !profile.Available {
		return nil, ErrWorkerUnavailable
	}
	if profile.SessionCap > 0 && profile.ActiveSessionCount >= profile.SessionCap {
		return nil, ErrWorkerBusy
	}

	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}

	now := c.now().UTC()
	won, err := c.store.ClaimRequest(ctx, requestID, workerID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrRequestUnavailable
	}
	req.Status = state.RequestAccepted
	req.WorkerID = &workerID
	req.AcceptedAt = &now

	sessionID, err := c.materializeSession(ctx, req, workerID, now)
	if err != nil {
		c.logger.Error().Err(err).
			Str("request_id", requestID).
			Str("worker_id", workerID).
			Msg("session materialization failed; request left for reconciliation")
		return nil, err
	}

	c.publish(ctx, events.TopicRequestClaimed, events.RequestClaimed{
		Request:   req,
		SessionID: sessionID,
		WorkerID:  workerID,
	})
	return &ClaimResult{Request: req, SessionID: sessionID}, nil
}

// materializeSession adopts the customer's most recent open session or
// creates a fresh waiting one, then binds the worker.
func (c *Coordinator) materializeSession(ctx context.Context, req *models.Request, workerID string, now time.Time) (string, error) {
	sess, err := c.store.LatestNonTerminalSessionForCustomer(ctx, req.CustomerID)
	if err != nil {
		return "", err
	}

	if sess != nil && (sess.Status == state.SessionPending || sess.Status == state.SessionScheduled) && sess.WorkerID == nil {
		ok, err := c.store.AttachWorker(ctx, sess.ID, req.ID, workerID, now)
		if err != nil {
			if errors.Is(err, db.ErrWorkerHasActiveSession) {
				return "", ErrWorkerBusy
			}
			return "", err
		}
		if ok {
			return sess.ID, nil
		}
		// session progressed under us; fall through to a fresh one
	}

	fresh := &models.Session{
		ID:             newID("ses_"),
		RequestID:      &req.ID,
		CustomerID:     req.CustomerID,
		WorkerID:       &workerID,
		Type:           req.ServiceType,
		Status:         state.SessionWaiting,
		Plan:           req.PlanCode,
		CreatedAt:      now,
		LastActivityAt: &now,
	}
	if err := c.store.CreateSession(ctx, fresh); err != nil {
		if errors.Is(err, db.ErrWorkerHasActiveSession) {
			return "", ErrWorkerBusy
		}
		return "", err
	}
	return fresh.ID, nil
}

// Cancel moves an open request to cancelled. It competes with claims and
// sweeps under the same conditional-write discipline. The intake session
// goes with it, so the customer can start a fresh request right away; if
// that write fails the sweeper closes the session on its next pass.
func (c *Coordinator) Cancel(ctx context.Context, requestID, reason string) error {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrRequestNotFound
	}

	ok, err := c.store.CancelRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRequestUnavailable
	}

	c.releaseIntakeSession(ctx, req.CustomerID)

	c.publish(ctx, events.TopicRequestCancelled, events.RequestCancelled{RequestID: requestID, Reason: reason})
	return nil
}

// releaseIntakeSession cancels the customer's worker-less intake session,
// if any. Best effort: a failure here leaves the session to the sweeper.
func (c *Coordinator) releaseIntakeSession(ctx context.Context, customerID string) {
	sess, err := c.store.LatestNonTerminalSessionForCustomer(ctx, customerID)
	if err != nil {
		c.logger.Warn().Err(err).Str("customer_id", customerID).Msg("intake session lookup failed")
		return
	}
	if sess == nil || sess.WorkerID != nil {
		return
	}
	if sess.Status != state.SessionPending && sess.Status != state.SessionScheduled {
		return
	}
	ok, err := c.store.CancelSession(ctx, sess.ID, models.EndReasonRequestClosed, c.now().UTC())
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("intake session release failed")
		return
	}
	if ok {
		c.publish(ctx, events.TopicSessionEnded, events.SessionEnded{
			SessionID: sess.ID, Status: "cancelled", Reason: models.EndReasonRequestClosed,
		})
	}
}

// RankWorkers runs the ranking engine over the current profile snapshot.
func (c *Coordinator) RankWorkers(ctx context.Context, req models.Requirements) ([]models.Candidate, error) {
	snapshot, err := c.profiles.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(req, snapshot, c.now().UTC()), nil
}

// publish is fire-and-forget: a gateway failure is logged and never fails
// or rolls back the committed write.
func (c *Coordinator) publish(ctx context.Context, topic string, event any) {
	if err := c.publisher.Publish(ctx, topic, event); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}

func newID(prefix string) string {
	return prefix + gonanoid.Must(16)
}
