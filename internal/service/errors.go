// Package service holds the assignment core: keyword extraction, candidate
// ranking, the claim coordinator and the expiration sweeper. Handlers and
// the sweeper loop call into this package; it never touches gin.
package service

import "errors"

// Sentinel errors handlers translate into stable wire codes. Losing a claim
// race or tripping the one-active-session constraint is an expected outcome,
// not an internal failure.
var (
	ErrRequestNotFound    = errors.New("request not found")
	ErrRequestUnavailable = errors.New("request no longer available")
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrWorkerUnavailable  = errors.New("worker is not available")
	ErrWorkerBusy         = errors.New("worker already has an active session")
	ErrSessionNotFound    = errors.New("session not found")
	ErrOpenRequestExists  = errors.New("customer already has an open request")
)
