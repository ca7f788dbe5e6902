package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadcall/backend/internal/events"
	"github.com/roadcall/backend/internal/models"
)

// SweepStore is the persistence surface of the sweeper. *db.Store satisfies
// it; tests substitute a fake.
type SweepStore interface {
	MarkUnattendedRequests(ctx context.Context, cutoff time.Time) ([]string, error)
	ExpireUnattendedRequests(ctx context.Context, cutoff time.Time) ([]string, error)
	ResetStaleAcceptedRequests(ctx context.Context, cutoff time.Time) ([]string, error)
	ExpireScheduledNoShows(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
	ExpireAbandonedSessions(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
	ExpireOverlongSessions(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
	CancelSessionsForEndedRequests(ctx context.Context, reason string) ([]string, error)
	WaiverRemindersDue(ctx context.Context, horizon time.Time) ([]models.Session, error)
	MarkWaiverReminderSent(ctx context.Context, id string, now time.Time) error

	CreateSweepRun(ctx context.Context, startedAt time.Time) (string, error)
	FinishSweepRun(ctx context.Context, id, status string, summary models.SweepSummary, finishedAt time.Time) error
}

// ReservationReleaser frees expired calendar holds. It is a sibling sweeper
// owned by the scheduling side; this sweeper only triggers it and folds the
// count into the summary.
type ReservationReleaser interface {
	ReleaseExpiredReservations(ctx context.Context, now time.Time) (int, error)
}

// Thresholds are the sweeper's time windows. All are measured backwards
// from the moment the sweep runs.
type Thresholds struct {
	PendingUnattendedAfter time.Duration
	UnattendedExpireAfter  time.Duration
	AcceptedReconcileAfter time.Duration
	ScheduledGrace         time.Duration
	AbandonedAfter         time.Duration
	MaxSessionDuration     time.Duration
	WaiverReminderLead     time.Duration
}

// Sweeper runs the periodic expiration checks. It is stateless between
// runs: every check reads current timestamps and statuses only, and every
// update is conditional on the expected pre-state, so overlapping or
// retried runs are no-ops on rows already handled.
type Sweeper struct {
	store      SweepStore
	releaser   ReservationReleaser
	publisher  events.Publisher
	logger     zerolog.Logger
	thresholds Thresholds
	now        func() time.Time
}

func NewSweeper(store SweepStore, releaser ReservationReleaser, pub events.Publisher, logger zerolog.Logger, th Thresholds) *Sweeper {
	return &Sweeper{
		store:      store,
		releaser:   releaser,
		publisher:  pub,
		logger:     logger,
		thresholds: th,
		now:        time.Now,
	}
}

// Run executes all checks once and returns the summary. Checks are
// independent: a failure in one is logged and the rest still run. The run
// is recorded in the sweep audit trail.
func (sw *Sweeper) Run(ctx context.Context) (models.SweepSummary, error) {
	now := sw.now().UTC()
	var summary models.SweepSummary

	runID, auditErr := sw.store.CreateSweepRun(ctx, now)
	if auditErr != nil {
		sw.logger.Error().Err(auditErr).Msg("sweep audit open failed")
	}

	failed := false

	if ids, err := sw.store.MarkUnattendedRequests(ctx, now.Add(-sw.thresholds.PendingUnattendedAfter)); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("mark unattended failed")
	} else {
		summary.MarkedUnattended = len(ids)
	}

	if ids, err := sw.store.ExpireUnattendedRequests(ctx, now.Add(-sw.thresholds.UnattendedExpireAfter)); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("expire unattended failed")
	} else {
		summary.AutoExpired = len(ids)
		for _, id := range ids {
			sw.publish(ctx, events.TopicRequestExpired, events.RequestExpired{RequestID: id})
		}
	}

	if ids, err := sw.store.ResetStaleAcceptedRequests(ctx, now.Add(-sw.thresholds.AcceptedReconcileAfter)); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("reconcile stale accepted failed")
	} else {
		summary.Reconciled = len(ids)
		if len(ids) > 0 {
			sw.logger.Warn().Strs("request_ids", ids).Msg("reconciled accepted requests without live session")
		}
	}

	if ids, err := sw.store.CancelSessionsForEndedRequests(ctx, models.EndReasonRequestClosed); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("close intake sessions of ended requests failed")
	} else {
		summary.IntakeClosed = len(ids)
		for _, id := range ids {
			sw.publish(ctx, events.TopicSessionEnded, events.SessionEnded{
				SessionID: id, Status: "cancelled", Reason: models.EndReasonRequestClosed,
			})
		}
	}

	if ids, err := sw.store.ExpireScheduledNoShows(ctx, now.Add(-sw.thresholds.ScheduledGrace), models.EndReasonTimedOutNeverStarted); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("expire scheduled no-shows failed")
	} else {
		summary.NoShowsProcessed = len(ids)
		for _, id := range ids {
			sw.publish(ctx, events.TopicSessionEnded, events.SessionEnded{
				SessionID: id, Status: "expired", Reason: models.EndReasonTimedOutNeverStarted,
			})
		}
	}

	if ids, err := sw.store.ExpireAbandonedSessions(ctx, now.Add(-sw.thresholds.AbandonedAfter), models.EndReasonOrphanedWaiting); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("expire abandoned sessions failed")
	} else {
		summary.AbandonedExpired = len(ids)
		for _, id := range ids {
			sw.publish(ctx, events.TopicSessionEnded, events.SessionEnded{
				SessionID: id, Status: "expired", Reason: models.EndReasonOrphanedWaiting,
			})
		}
	}

	if ids, err := sw.store.ExpireOverlongSessions(ctx, now.Add(-sw.thresholds.MaxSessionDuration), models.EndReasonMaxDuration); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("expire overlong sessions failed")
	} else {
		summary.OverlongEnded = len(ids)
		for _, id := range ids {
			sw.publish(ctx, events.TopicSessionEnded, events.SessionEnded{
				SessionID: id, Status: "expired", Reason: models.EndReasonMaxDuration,
			})
		}
	}

	if due, err := sw.store.WaiverRemindersDue(ctx, now.Add(sw.thresholds.WaiverReminderLead)); err != nil {
		failed = true
		sw.logger.Error().Err(err).Msg("waiver reminder query failed")
	} else {
		for _, sess := range due {
			scheduled := ""
			if sess.ScheduledFor != nil {
				scheduled = sess.ScheduledFor.UTC().Format(time.RFC3339)
			}
			sw.publish(ctx, events.TopicWaiverReminder, events.WaiverReminder{
				SessionID:    sess.ID,
				CustomerID:   sess.CustomerID,
				ScheduledFor: scheduled,
			})
			if err := sw.store.MarkWaiverReminderSent(ctx, sess.ID, now); err != nil {
				sw.logger.Error().Err(err).Str("session_id", sess.ID).Msg("mark waiver reminder failed")
				continue
			}
			summary.RemindersSent++
		}
	}

	if sw.releaser != nil {
		if n, err := sw.releaser.ReleaseExpiredReservations(ctx, now); err != nil {
			failed = true
			sw.logger.Error().Err(err).Msg("release reservations failed")
		} else {
			summary.ReservationsReleased = n
		}
	}

	status := "ok"
	if failed {
		status = "partial"
	}
	if auditErr == nil {
		if err := sw.store.FinishSweepRun(ctx, runID, status, summary, sw.now().UTC()); err != nil {
			sw.logger.Error().Err(err).Msg("sweep audit close failed")
		}
	}

	sw.logger.Info().
		Int("marked_unattended", summary.MarkedUnattended).
		Int("auto_expired", summary.AutoExpired).
		Int("reconciled", summary.Reconciled).
		Int("no_shows", summary.NoShowsProcessed).
		Int("reminders_sent", summary.RemindersSent).
		Int("abandoned_expired", summary.AbandonedExpired).
		Int("overlong_ended", summary.OverlongEnded).
		Int("intake_closed", summary.IntakeClosed).
		Int("reservations_released", summary.ReservationsReleased).
		Msg("sweep complete")
	return summary, nil
}

// Start runs the sweeper on a fixed interval until the context is
// cancelled.
func (sw *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sw.Run(ctx); err != nil {
				sw.logger.Error().Err(err).Msg("sweep run failed")
			}
		}
	}
}

func (sw *Sweeper) publish(ctx context.Context, topic string, event any) {
	if err := sw.publisher.Publish(ctx, topic, event); err != nil {
		sw.logger.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}
