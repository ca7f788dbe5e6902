package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadcall/backend/internal/db"
	"github.com/roadcall/backend/internal/events"
	"github.com/roadcall/backend/internal/models"
	"github.com/roadcall/backend/internal/profiles"
	"github.com/roadcall/backend/internal/state"
)

// fakeStore is an in-memory LifecycleStore mirroring the conditional-write
// semantics of the real queries.
type fakeStore struct {
	requests map[string]*models.Request
	sessions map[string]*models.Session

	createSessionErr error
	attachErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: make(map[string]*models.Request),
		sessions: make(map[string]*models.Session),
	}
}

func (f *fakeStore) CreateRequest(_ context.Context, r *models.Request) error {
	cp := *r
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeStore) GetRequest(_ context.Context, id string) (*models.Request, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) HasOpenRequest(_ context.Context, customerID string) (bool, error) {
	for _, r := range f.requests {
		if r.CustomerID == customerID && (r.Status == state.RequestPending || r.Status == state.RequestUnattended) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ClaimRequest(_ context.Context, id, workerID string, now time.Time) (bool, error) {
	r, ok := f.requests[id]
	if !ok {
		return false, nil
	}
	if (r.Status != state.RequestPending && r.Status != state.RequestUnattended) || r.WorkerID != nil {
		return false, nil
	}
	r.Status = state.RequestAccepted
	r.WorkerID = &workerID
	r.AcceptedAt = &now
	return true, nil
}

func (f *fakeStore) CancelRequest(_ context.Context, id string) (bool, error) {
	r, ok := f.requests[id]
	if !ok || (r.Status != state.RequestPending && r.Status != state.RequestUnattended) {
		return false, nil
	}
	r.Status = state.RequestCancelled
	return true, nil
}

func (f *fakeStore) CreateSession(_ context.Context, sess *models.Session) error {
	if f.createSessionErr != nil {
		return f.createSessionErr
	}
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) LatestNonTerminalSessionForCustomer(_ context.Context, customerID string) (*models.Session, error) {
	var latest *models.Session
	for _, s := range f.sessions {
		if s.CustomerID != customerID || state.IsSessionTerminal(s.Status) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) AttachWorker(_ context.Context, sessionID, requestID, workerID string, now time.Time) (bool, error) {
	if f.attachErr != nil {
		return false, f.attachErr
	}
	s, ok := f.sessions[sessionID]
	if !ok || s.WorkerID != nil || (s.Status != state.SessionPending && s.Status != state.SessionScheduled) {
		return false, nil
	}
	s.WorkerID = &workerID
	s.RequestID = &requestID
	s.Status = state.SessionWaiting
	s.LastActivityAt = &now
	return true, nil
}

func (f *fakeStore) StartSession(_ context.Context, id string, now time.Time) (bool, error) {
	s, ok := f.sessions[id]
	if !ok || s.Status != state.SessionWaiting {
		return false, nil
	}
	s.Status = state.SessionLive
	s.StartedAt = &now
	return true, nil
}

func (f *fakeStore) CompleteSession(_ context.Context, id string, now time.Time) (bool, error) {
	s, ok := f.sessions[id]
	if !ok || s.Status != state.SessionLive {
		return false, nil
	}
	s.Status = state.SessionCompleted
	s.EndedAt = &now
	return true, nil
}

func (f *fakeStore) CancelSession(_ context.Context, id, reason string, now time.Time) (bool, error) {
	s, ok := f.sessions[id]
	if !ok || state.IsSessionTerminal(s.Status) {
		return false, nil
	}
	s.Status = state.SessionCancelled
	s.EndedAt = &now
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata["end_reason"] = reason
	return true, nil
}

// capturingPublisher records published events.
type capturingPublisher struct {
	topics []string
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.topics = append(p.topics, topic)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func testCoordinator(store LifecycleStore, workers ...models.WorkerProfile) (*Coordinator, *capturingPublisher) {
	pub := &capturingPublisher{}
	c := NewCoordinator(store, profiles.NewStaticStore(workers), pub, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return c, pub
}

func readyWorker(id string) models.WorkerProfile {
	return models.WorkerProfile{ID: id, Name: "Worker " + id, Available: true, SessionCap: 3}
}

func seedRequest(store *fakeStore, id, customerID string, status state.RequestStatus) {
	store.requests[id] = &models.Request{
		ID:          id,
		CustomerID:  customerID,
		ServiceType: models.ServiceChat,
		Status:      status,
		CreatedAt:   time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}
}

func TestIntakeCreatesPendingRequest(t *testing.T) {
	store := newFakeStore()
	c, pub := testCoordinator(store)

	req, err := c.Intake(context.Background(), IntakeInput{
		CustomerID:  "cust-1",
		ServiceType: models.ServiceVideo,
		Urgency:     models.UrgencyImmediate,
		Concern:     "check engine light",
	})
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if req.Status != state.RequestPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if req.ID == "" {
		t.Error("expected generated id")
	}
	if len(pub.topics) != 1 || pub.topics[0] != events.TopicRequestCreated {
		t.Errorf("published %v, want [%s]", pub.topics, events.TopicRequestCreated)
	}

	// The intake session rides along, unassigned.
	var intake *models.Session
	for _, s := range store.sessions {
		intake = s
	}
	if intake == nil {
		t.Fatal("intake session was not created")
	}
	if intake.Status != state.SessionPending {
		t.Errorf("intake session status = %s, want pending", intake.Status)
	}
	if intake.WorkerID != nil {
		t.Errorf("intake session worker = %v, want nil", intake.WorkerID)
	}
	if intake.RequestID == nil || *intake.RequestID != req.ID {
		t.Errorf("intake session request = %v, want %s", intake.RequestID, req.ID)
	}
}

func TestIntakeWithStartTimeCreatesScheduledSession(t *testing.T) {
	store := newFakeStore()
	c, _ := testCoordinator(store)

	when := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	_, err := c.Intake(context.Background(), IntakeInput{
		CustomerID:   "cust-1",
		ServiceType:  models.ServiceVideo,
		Urgency:      models.UrgencyScheduled,
		ScheduledFor: &when,
	})
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	for _, s := range store.sessions {
		if s.Status != state.SessionScheduled {
			t.Errorf("session status = %s, want scheduled", s.Status)
		}
		if s.ScheduledFor == nil || !s.ScheduledFor.Equal(when) {
			t.Errorf("scheduled_for = %v, want %v", s.ScheduledFor, when)
		}
	}
}

func TestIntakeRejectsCustomerWithOpenSession(t *testing.T) {
	store := newFakeStore()
	store.sessions["ses-1"] = &models.Session{
		ID:         "ses-1",
		CustomerID: "cust-1",
		Type:       models.ServiceChat,
		Status:     state.SessionLive,
		CreatedAt:  time.Now().UTC(),
	}
	c, _ := testCoordinator(store)

	_, err := c.Intake(context.Background(), IntakeInput{CustomerID: "cust-1", ServiceType: models.ServiceChat})
	if !errors.Is(err, ErrOpenRequestExists) {
		t.Fatalf("err = %v, want ErrOpenRequestExists", err)
	}
}

func TestIntakeRejectsSecondOpenRequest(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestUnattended)
	c, _ := testCoordinator(store)

	_, err := c.Intake(context.Background(), IntakeInput{CustomerID: "cust-1", ServiceType: models.ServiceChat})
	if !errors.Is(err, ErrOpenRequestExists) {
		t.Fatalf("err = %v, want ErrOpenRequestExists", err)
	}
}

func TestClaimWinsAndCreatesSession(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	c, pub := testCoordinator(store, readyWorker("w-1"))

	res, err := c.Claim(context.Background(), "req-1", "w-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Request.Status != state.RequestAccepted {
		t.Errorf("request status = %s, want accepted", res.Request.Status)
	}
	sess := store.sessions[res.SessionID]
	if sess == nil {
		t.Fatal("session was not created")
	}
	if sess.Status != state.SessionWaiting {
		t.Errorf("session status = %s, want waiting", sess.Status)
	}
	if sess.WorkerID == nil || *sess.WorkerID != "w-1" {
		t.Errorf("session worker = %v, want w-1", sess.WorkerID)
	}
	if len(pub.topics) != 1 || pub.topics[0] != events.TopicRequestClaimed {
		t.Errorf("published %v, want [%s]", pub.topics, events.TopicRequestClaimed)
	}
}

func TestClaimUnattendedRequestStillClaimable(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestUnattended)
	c, _ := testCoordinator(store, readyWorker("w-1"))

	if _, err := c.Claim(context.Background(), "req-1", "w-1"); err != nil {
		t.Fatalf("Claim of unattended request: %v", err)
	}
}

func TestClaimLoserGetsRequestUnavailable(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	c, _ := testCoordinator(store, readyWorker("w-1"), readyWorker("w-2"))

	if _, err := c.Claim(context.Background(), "req-1", "w-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := c.Claim(context.Background(), "req-1", "w-2")
	if !errors.Is(err, ErrRequestUnavailable) {
		t.Fatalf("second claim err = %v, want ErrRequestUnavailable", err)
	}
}

func TestClaimAdoptsExistingPendingSession(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	store.sessions["ses-1"] = &models.Session{
		ID:         "ses-1",
		CustomerID: "cust-1",
		Type:       models.ServiceChat,
		Status:     state.SessionPending,
		CreatedAt:  time.Date(2026, 3, 14, 11, 30, 0, 0, time.UTC),
	}
	c, _ := testCoordinator(store, readyWorker("w-1"))

	res, err := c.Claim(context.Background(), "req-1", "w-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.SessionID != "ses-1" {
		t.Fatalf("session = %s, want adopted ses-1", res.SessionID)
	}
	sess := store.sessions["ses-1"]
	if sess.Status != state.SessionWaiting {
		t.Errorf("adopted session status = %s, want waiting", sess.Status)
	}
	if sess.RequestID == nil || *sess.RequestID != "req-1" {
		t.Errorf("adopted session request = %v, want req-1", sess.RequestID)
	}
}

func TestClaimMapsActiveSessionConstraintToWorkerBusy(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	store.createSessionErr = db.ErrWorkerHasActiveSession
	c, _ := testCoordinator(store, readyWorker("w-1"))

	_, err := c.Claim(context.Background(), "req-1", "w-1")
	if !errors.Is(err, ErrWorkerBusy) {
		t.Fatalf("err = %v, want ErrWorkerBusy", err)
	}
}

func TestClaimAdoptionMapsConstraintToWorkerBusy(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	store.sessions["ses-1"] = &models.Session{
		ID:         "ses-1",
		CustomerID: "cust-1",
		Type:       models.ServiceChat,
		Status:     state.SessionPending,
		CreatedAt:  time.Now().UTC(),
	}
	store.attachErr = db.ErrWorkerHasActiveSession
	c, _ := testCoordinator(store, readyWorker("w-1"))

	_, err := c.Claim(context.Background(), "req-1", "w-1")
	if !errors.Is(err, ErrWorkerBusy) {
		t.Fatalf("err = %v, want ErrWorkerBusy", err)
	}
}

func TestClaimLeavesAcceptedRequestOnMaterializationFailure(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	store.createSessionErr = errors.New("connection reset")
	c, _ := testCoordinator(store, readyWorker("w-1"))

	_, err := c.Claim(context.Background(), "req-1", "w-1")
	if err == nil {
		t.Fatal("expected error")
	}
	// No inline rollback: the sweeper's reconciliation pass repairs this.
	if got := store.requests["req-1"].Status; got != state.RequestAccepted {
		t.Errorf("request status = %s, want accepted awaiting reconciliation", got)
	}
}

func TestClaimRejectsUnknownAndUnavailableWorkers(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)

	offline := readyWorker("w-off")
	offline.Available = false
	busy := readyWorker("w-busy")
	busy.ActiveSessionCount = 3

	c, _ := testCoordinator(store, offline, busy)

	if _, err := c.Claim(context.Background(), "req-1", "w-ghost"); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("unknown worker err = %v, want ErrWorkerNotFound", err)
	}
	if _, err := c.Claim(context.Background(), "req-1", "w-off"); !errors.Is(err, ErrWorkerUnavailable) {
		t.Errorf("offline worker err = %v, want ErrWorkerUnavailable", err)
	}
	if _, err := c.Claim(context.Background(), "req-1", "w-busy"); !errors.Is(err, ErrWorkerBusy) {
		t.Errorf("at-cap worker err = %v, want ErrWorkerBusy", err)
	}
}

func TestCancelReleasesIntakeSessionForRetry(t *testing.T) {
	store := newFakeStore()
	c, _ := testCoordinator(store)

	req, err := c.Intake(context.Background(), IntakeInput{
		CustomerID:  "cust-1",
		ServiceType: models.ServiceChat,
		Urgency:     models.UrgencyImmediate,
	})
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}

	if err := c.Cancel(context.Background(), req.ID, "changed mind"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// The intake session is released with the request, so the customer is
	// not locked out of a fresh lifecycle.
	for _, s := range store.sessions {
		if s.CustomerID == "cust-1" && !state.IsSessionTerminal(s.Status) {
			t.Fatalf("session %s still %s after cancel", s.ID, s.Status)
		}
		if s.Metadata["end_reason"] != models.EndReasonRequestClosed {
			t.Errorf("end reason = %v, want %s", s.Metadata["end_reason"], models.EndReasonRequestClosed)
		}
	}
	if _, err := c.Intake(context.Background(), IntakeInput{
		CustomerID:  "cust-1",
		ServiceType: models.ServiceChat,
		Urgency:     models.UrgencyImmediate,
	}); err != nil {
		t.Fatalf("retry intake after cancel: %v", err)
	}
}

func TestCancelCompetesWithClaim(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	c, pub := testCoordinator(store, readyWorker("w-1"))

	if err := c.Cancel(context.Background(), "req-1", "customer changed mind"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := store.requests["req-1"].Status; got != state.RequestCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
	if len(pub.topics) != 1 || pub.topics[0] != events.TopicRequestCancelled {
		t.Errorf("published %v, want [%s]", pub.topics, events.TopicRequestCancelled)
	}

	// The cancelled request is no longer claimable.
	if _, err := c.Claim(context.Background(), "req-1", "w-1"); !errors.Is(err, ErrRequestUnavailable) {
		t.Errorf("claim after cancel err = %v, want ErrRequestUnavailable", err)
	}

	// And a second cancel loses the conditional write.
	if err := c.Cancel(context.Background(), "req-1", ""); !errors.Is(err, ErrRequestUnavailable) {
		t.Errorf("second cancel err = %v, want ErrRequestUnavailable", err)
	}
}

func TestSessionLifecycleOperations(t *testing.T) {
	store := newFakeStore()
	seedRequest(store, "req-1", "cust-1", state.RequestPending)
	c, pub := testCoordinator(store, readyWorker("w-1"))

	res, err := c.Claim(context.Background(), "req-1", "w-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	sess, err := c.StartSession(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Status != state.SessionLive || sess.StartedAt == nil {
		t.Errorf("after start: status=%s startedAt=%v", sess.Status, sess.StartedAt)
	}

	sess, err = c.CompleteSession(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if sess.Status != state.SessionCompleted || sess.EndedAt == nil {
		t.Errorf("after complete: status=%s endedAt=%v", sess.Status, sess.EndedAt)
	}

	// Completed is terminal: no further moves.
	if _, err := c.CompleteSession(context.Background(), res.SessionID); err != nil {
		var te *state.TransitionError
		if !errors.As(err, &te) {
			t.Errorf("repeat complete err = %v, want TransitionError", err)
		}
	}
	if _, err := c.CancelSession(context.Background(), res.SessionID, ""); err == nil {
		t.Error("cancel of completed session should fail")
	}

	wantTopics := []string{events.TopicRequestClaimed, events.TopicSessionStarted, events.TopicSessionEnded}
	if len(pub.topics) < len(wantTopics) {
		t.Fatalf("published %v, want at least %v", pub.topics, wantTopics)
	}
	for i, topic := range wantTopics {
		if pub.topics[i] != topic {
			t.Errorf("topic[%d] = %s, want %s", i, pub.topics[i], topic)
		}
	}
}

func TestCancelSessionRecordsEndReason(t *testing.T) {
	store := newFakeStore()
	store.sessions["ses-1"] = &models.Session{
		ID:         "ses-1",
		CustomerID: "cust-1",
		Type:       models.ServiceChat,
		Status:     state.SessionWaiting,
		CreatedAt:  time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}
	c, _ := testCoordinator(store)

	if _, err := c.CancelSession(context.Background(), "ses-1", ""); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if got := store.sessions["ses-1"].Metadata["end_reason"]; got != models.EndReasonManualCleanup {
		t.Errorf("end_reason = %v, want %s", got, models.EndReasonManualCleanup)
	}
}

func TestRepeatCompleteIsIdempotentPerTransitionTable(t *testing.T) {
	// Same-state moves are legal in the table, but the conditional write
	// only fires from live; the second call reports the conflict.
	store := newFakeStore()
	store.sessions["ses-1"] = &models.Session{
		ID: "ses-1", CustomerID: "cust-1", Type: models.ServiceChat,
		Status: state.SessionLive, CreatedAt: time.Now(),
	}
	c, _ := testCoordinator(store)

	if _, err := c.CompleteSession(context.Background(), "ses-1"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err := c.CompleteSession(context.Background(), "ses-1")
	var te *state.TransitionError
	if err == nil || !errors.As(err, &te) {
		t.Fatalf("second complete err = %v, want TransitionError", err)
	}
}
