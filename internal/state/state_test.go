package state

import "testing"

func TestRequestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to RequestStatus }{
		{RequestPending, RequestAccepted},
		{RequestPending, RequestCancelled},
		{RequestPending, RequestUnattended},
		{RequestUnattended, RequestAccepted},
		{RequestUnattended, RequestExpired},
		{RequestUnattended, RequestCancelled},
	}
	for _, tc := range allowed {
		if !CanRequestTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to RequestStatus }{
		{RequestPending, RequestExpired},
		{RequestAccepted, RequestPending},
		{RequestAccepted, RequestCancelled},
		{RequestExpired, RequestAccepted},
		{RequestCancelled, RequestPending},
	}
	for _, tc := range forbidden {
		if CanRequestTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestRequestTransitionExhaustive(t *testing.T) {
	all := []RequestStatus{RequestPending, RequestAccepted, RequestUnattended, RequestExpired, RequestCancelled}
	for _, from := range all {
		for _, to := range all {
			inTable := false
			for _, next := range NextRequestStates(from) {
				if next == to {
					inTable = true
				}
			}
			got := CanRequestTransition(from, to)
			want := inTable || from == to
			if got != want {
				t.Errorf("CanRequestTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestSessionTransitionTable(t *testing.T) {
	allowed := []struct{ from, to SessionStatus }{
		{SessionPending, SessionWaiting},
		{SessionScheduled, SessionWaiting},
		{SessionWaiting, SessionLive},
		{SessionLive, SessionCompleted},
		{SessionPending, SessionCancelled},
		{SessionScheduled, SessionExpired},
		{SessionWaiting, SessionExpired},
		{SessionLive, SessionCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to SessionStatus }{
		{SessionPending, SessionLive},
		{SessionScheduled, SessionCompleted},
		{SessionWaiting, SessionCompleted},
		{SessionCompleted, SessionLive},
		{SessionCompleted, SessionWaiting},
		{SessionExpired, SessionWaiting},
		{SessionCancelled, SessionLive},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestSessionTransitionExhaustive(t *testing.T) {
	all := []SessionStatus{
		SessionPending, SessionScheduled, SessionWaiting, SessionLive,
		SessionCompleted, SessionCancelled, SessionExpired,
	}
	for _, from := range all {
		for _, to := range all {
			inTable := false
			for _, next := range NextSessionStates(from) {
				if next == to {
					inTable = true
				}
			}
			got := CanTransition(from, to)
			want := inTable || from == to
			if got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestClaimableStatusesAcceptAClaim(t *testing.T) {
	for _, from := range ClaimableRequestStatuses() {
		if !CanRequestTransition(from, RequestAccepted) {
			t.Errorf("expected %s to be claimable", from)
		}
	}
	for _, from := range []RequestStatus{RequestExpired, RequestCancelled} {
		if CanRequestTransition(from, RequestAccepted) {
			t.Errorf("expected %s not to be claimable", from)
		}
	}
}

func TestSameStateIsIdempotent(t *testing.T) {
	if !CanTransition(SessionWaiting, SessionWaiting) {
		t.Fatal("expected same-state session transition to be allowed")
	}
	if !CanRequestTransition(RequestPending, RequestPending) {
		t.Fatal("expected same-state request transition to be allowed")
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []RequestStatus{RequestAccepted, RequestExpired, RequestCancelled} {
		if !IsRequestTerminal(s) {
			t.Errorf("expected request status %s to be terminal", s)
		}
	}
	for _, s := range []RequestStatus{RequestPending, RequestUnattended} {
		if IsRequestTerminal(s) {
			t.Errorf("expected request status %s to be non-terminal", s)
		}
	}
	for _, s := range []SessionStatus{SessionCompleted, SessionCancelled, SessionExpired} {
		if !IsSessionTerminal(s) {
			t.Errorf("expected session status %s to be terminal", s)
		}
	}
	for _, s := range NonTerminalSessionStatuses() {
		if IsSessionTerminal(s) {
			t.Errorf("expected session status %s to be non-terminal", s)
		}
	}
}

func TestAssertTransitionError(t *testing.T) {
	err := AssertTransition(SessionPending, SessionLive)
	if err == nil {
		t.Fatal("expected error for pending -> live")
	}
	terr, ok := err.(*TransitionError)
	if !ok {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if terr.From != "pending" || terr.To != "live" {
		t.Fatalf("unexpected error fields: %+v", terr)
	}

	if err := AssertRequestTransition(RequestPending, RequestAccepted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
