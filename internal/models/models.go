package models

import (
	"encoding/json"
	"time"

	"github.com/roadcall/backend/internal/state"
)

type ServiceType string

const (
	ServiceChat       ServiceType = "chat"
	ServiceVideo      ServiceType = "video"
	ServiceDiagnostic ServiceType = "diagnostic"
)

type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyScheduled Urgency = "scheduled"
)

// Session end reasons recorded in metadata when the sweeper closes a session.
// Structured values only, never free text alone.
const (
	EndReasonTimedOutNeverStarted = "timed_out_never_started"
	EndReasonOrphanedWaiting      = "orphaned_waiting"
	EndReasonManualCleanup        = "manual_cleanup"
	EndReasonMaxDuration          = "timed_out_max_duration"
	EndReasonRequestClosed        = "request_closed"
)

// Request is a customer's ask for a worker. WorkerID is non-null iff the
// request is accepted; mutation happens only through the claim coordinator
// and the sweeper.
type Request struct {
	ID               string              `json:"id"`
	CustomerID       string              `json:"customer_id"`
	ServiceType      ServiceType         `json:"service_type"`
	PlanCode         string              `json:"plan_code"`
	RequestedBrand   string              `json:"requested_brand,omitempty"`
	RestrictedBrands []string            `json:"restricted_brands,omitempty"`
	Urgency          Urgency             `json:"urgency"`
	Concern          string              `json:"concern,omitempty"`
	Status           state.RequestStatus `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
	AcceptedAt       *time.Time          `json:"accepted_at,omitempty"`
	ReofferedAt      *time.Time          `json:"reoffered_at,omitempty"`
	WorkerID         *string             `json:"worker_id,omitempty"`
	ParentSessionID  *string             `json:"parent_session_id,omitempty"`
}

// Session is the working engagement derived from a claimed request, or
// created directly for scheduled flows. EndedAt is set exactly once, on
// entry to a terminal status.
type Session struct {
	ID                   string              `json:"id"`
	RequestID            *string             `json:"request_id,omitempty"`
	CustomerID           string              `json:"customer_id"`
	WorkerID             *string             `json:"worker_id,omitempty"`
	Type                 ServiceType         `json:"type"`
	Status               state.SessionStatus `json:"status"`
	Plan                 string              `json:"plan"`
	ScheduledFor         *time.Time          `json:"scheduled_for,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	StartedAt            *time.Time          `json:"started_at,omitempty"`
	EndedAt              *time.Time          `json:"ended_at,omitempty"`
	LastActivityAt       *time.Time          `json:"last_activity_at,omitempty"`
	WaiverSignedAt       *time.Time          `json:"waiver_signed_at,omitempty"`
	WaiverReminderSentAt *time.Time          `json:"waiver_reminder_sent_at,omitempty"`
	Metadata             map[string]any      `json:"metadata,omitempty"`
}

// WorkerProfile is the read-only ranking input. It is owned by the external
// profile-management collaborator; this core only reads snapshots.
type WorkerProfile struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Available          bool       `json:"available"`
	ServiceKeywords    []string   `json:"service_keywords"`
	BrandSpecialties   []string   `json:"brand_specialties"`
	SpecialistTier     int        `json:"specialist_tier"`
	Certified          bool       `json:"certified"`
	Country            string     `json:"country"`
	City               string     `json:"city"`
	ActiveSessionCount int        `json:"active_session_count"`
	SessionCap         int        `json:"session_cap"`
	LastAssignedAt     *time.Time `json:"last_assigned_at,omitempty"`
}

// Requirements is the ranking engine input derived from a request.
type Requirements struct {
	ServiceType           ServiceType `json:"service_type"`
	RequestedBrand        string      `json:"requested_brand,omitempty"`
	RestrictedBrands      []string    `json:"restricted_brands,omitempty"`
	Concern               string      `json:"concern,omitempty"`
	Urgency               Urgency     `json:"urgency"`
	CustomerCountry       string      `json:"customer_country,omitempty"`
	CustomerCity          string      `json:"customer_city,omitempty"`
	RequiresCertification bool        `json:"requires_certification"`
}

// Candidate is one entry of the advisory ranking output. The ordering decides
// notification priority only; any eligible worker may still win the claim.
type Candidate struct {
	WorkerID     string   `json:"worker_id"`
	Name         string   `json:"name"`
	Score        int      `json:"score"`
	MatchReasons []string `json:"match_reasons"`
	IsSpecialist bool     `json:"is_specialist"`
	IsLocalMatch bool     `json:"is_local_match"`
	ActiveLoad   int      `json:"active_load"`
}

// SweepSummary is the observability payload returned by one sweeper run.
type SweepSummary struct {
	MarkedUnattended     int `json:"marked_unattended"`
	AutoExpired          int `json:"auto_expired"`
	Reconciled           int `json:"reconciled"`
	NoShowsProcessed     int `json:"no_shows_processed"`
	RemindersSent        int `json:"reminders_sent"`
	AbandonedExpired     int `json:"abandoned_expired"`
	OverlongEnded        int `json:"overlong_ended"`
	IntakeClosed         int `json:"intake_closed"`
	ReservationsReleased int `json:"reservations_released"`
}

func (s SweepSummary) Total() int {
	return s.MarkedUnattended + s.AutoExpired + s.Reconciled +
		s.NoShowsProcessed + s.AbandonedExpired + s.OverlongEnded +
		s.IntakeClosed + s.ReservationsReleased
}

type SweepRun struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Status     string          `json:"status"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}
