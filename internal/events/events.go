package events

import (
	"context"

	"github.com/roadcall/backend/internal/models"
)

// Event topic constants
const (
	TopicRequestCreated   = "roadcall.request.created"
	TopicRequestClaimed   = "roadcall.request.claimed"
	TopicRequestCancelled = "roadcall.request.cancelled"
	TopicRequestExpired   = "roadcall.request.expired"

	TopicSessionStarted   = "roadcall.session.started"
	TopicSessionEnded     = "roadcall.session.ended"
	TopicWaiverReminder   = "roadcall.session.waiver_reminder"
)

// Event types

type RequestCreated struct {
	Request *models.Request `json:"request"`
}

type RequestClaimed struct {
	Request   *models.Request `json:"request"`
	SessionID string          `json:"session_id"`
	WorkerID  string          `json:"worker_id"`
}

type RequestCancelled struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

type RequestExpired struct {
	RequestID string `json:"request_id"`
}

type SessionStarted struct {
	SessionID string  `json:"session_id"`
	WorkerID  *string `json:"worker_id,omitempty"`
}

type SessionEnded struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type WaiverReminder struct {
	SessionID    string `json:"session_id"`
	CustomerID   string `json:"customer_id"`
	ScheduledFor string `json:"scheduled_for"`
}

// Publisher is the interface for emitting events. Publishing happens only
// after a committed state change and is best-effort: callers log failures
// and move on.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
