package service

import (
	"context"

	"github.com/roadcall/backend/internal/events"
	"github.com/roadcall/backend/internal/models"
	"github.com/roadcall/backend/internal/state"
)

// StartSession moves a waiting session to live.
func (c *Coordinator) StartSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if err := state.AssertTransition(sess.Status, state.SessionLive); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	ok, err := c.store.StartSession(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost to a concurrent transition; report the move as invalid
		return nil, &state.TransitionError{Entity: "session", From: string(sess.Status), To: string(state.SessionLive)}
	}
	sess.Status = state.SessionLive
	sess.StartedAt = &now
	sess.LastActivityAt = &now

	c.publish(ctx, events.TopicSessionStarted, events.SessionStarted{SessionID: id, WorkerID: sess.WorkerID})
	return sess, nil
}

// CompleteSession closes a live session normally.
func (c *Coordinator) CompleteSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if err := state.AssertTransition(sess.Status, state.SessionCompleted); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	ok, err := c.store.CompleteSession(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &state.TransitionError{Entity: "session", From: string(sess.Status), To: string(state.SessionCompleted)}
	}
	sess.Status = state.SessionCompleted
	sess.EndedAt = &now

	c.publish(ctx, events.TopicSessionEnded, events.SessionEnded{
		SessionID: id,
		Status:    string(state.SessionCompleted),
	})
	return sess, nil
}

// CancelSession cancels any non-terminal session, recording the structured
// end reason.
func (c *Coordinator) CancelSession(ctx context.Context, id, reason string) (*models.Session, error) {
	sess, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if err := state.AssertTransition(sess.Status, state.SessionCancelled); err != nil {
		return nil, err
	}

	if reason == "" {
		reason = models.EndReasonManualCleanup
	}
	now := c.now().UTC()
	ok, err := c.store.CancelSession(ctx, id, reason, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &state.TransitionError{Entity: "session", From: string(sess.Status), To: string(state.SessionCancelled)}
	}
	sess.Status = state.SessionCancelled
	sess.EndedAt = &now

	c.publish(ctx, events.TopicSessionEnded, events.SessionEnded{
		SessionID: id,
		Status:    string(state.SessionCancelled),
		Reason:    reason,
	})
	return sess, nil
}

// GetSession returns a session or ErrSessionNotFound.
func (c *Coordinator) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
