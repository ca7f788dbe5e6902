// Package state is the single source of truth for request and session
// lifecycles. Every mutation path (claim, sweep, manual end, cancel) must
// consult the transition tables here before writing; an invalid transition is
// a programming error surfaced as a TransitionError, never silently coerced.
package state

import "fmt"

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAccepted   RequestStatus = "accepted"
	RequestUnattended RequestStatus = "unattended"
	RequestExpired    RequestStatus = "expired"
	RequestCancelled  RequestStatus = "cancelled"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionScheduled SessionStatus = "scheduled"
	SessionWaiting   SessionStatus = "waiting"
	SessionLive      SessionStatus = "live"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionExpired   SessionStatus = "expired"
)

// TransitionError reports an attempted write that the transition tables do
// not allow. It is fatal to the operation, not the process.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestAccepted, RequestCancelled, RequestUnattended},
	RequestUnattended: {RequestAccepted, RequestExpired, RequestCancelled},
	RequestAccepted:   {},
	RequestExpired:    {},
	RequestCancelled:  {},
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:   {SessionWaiting, SessionCancelled, SessionExpired},
	SessionScheduled: {SessionWaiting, SessionCancelled, SessionExpired},
	SessionWaiting:   {SessionLive, SessionCancelled, SessionExpired},
	SessionLive:      {SessionCompleted, SessionCancelled, SessionExpired},
	SessionCompleted: {},
	SessionCancelled: {},
	SessionExpired:   {},
}

// CanRequestTransition reports whether a request may move from one status to
// another. Same-state transitions are allowed so retried updates stay
// idempotent.
func CanRequestTransition(from, to RequestStatus) bool {
	if from == to {
		return true
	}
	next, ok := requestTransitions[from]
	if !ok {
		return false
	}
	return containsRequest(next, to)
}

// CanTransition reports whether a session may move from one status to
// another. Same-state transitions are allowed so retried updates stay
// idempotent.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	next, ok := sessionTransitions[from]
	if !ok {
		return false
	}
	return containsSession(next, to)
}

// AssertRequestTransition returns a TransitionError when the move is illegal.
func AssertRequestTransition(from, to RequestStatus) error {
	if !CanRequestTransition(from, to) {
		return &TransitionError{Entity: "request", From: string(from), To: string(to)}
	}
	return nil
}

// AssertTransition returns a TransitionError when the session move is illegal.
func AssertTransition(from, to SessionStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{Entity: "session", From: string(from), To: string(to)}
	}
	return nil
}

// IsRequestTerminal reports whether no further request transitions exist.
func IsRequestTerminal(s RequestStatus) bool {
	next, ok := requestTransitions[s]
	return ok && len(next) == 0
}

// IsSessionTerminal reports whether no further session transitions exist.
func IsSessionTerminal(s SessionStatus) bool {
	next, ok := sessionTransitions[s]
	return ok && len(next) == 0
}

// NonTerminalSessionStatuses is the status set behind the worker-session
// uniqueness constraint: a worker may hold at most one session in any of
// these states. Must stay in sync with the uniq_worker_one_active index.
func NonTerminalSessionStatuses() []SessionStatus {
	return []SessionStatus{SessionPending, SessionScheduled, SessionWaiting, SessionLive}
}

// ClaimableRequestStatuses lists the request states an accept may start from.
func ClaimableRequestStatuses() []RequestStatus {
	return []RequestStatus{RequestPending, RequestUnattended}
}

func NextRequestStates(from RequestStatus) []RequestStatus {
	return requestTransitions[from]
}

func NextSessionStates(from SessionStatus) []SessionStatus {
	return sessionTransitions[from]
}

func containsRequest(set []RequestStatus, s RequestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsSession(set []SessionStatus, s SessionStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
