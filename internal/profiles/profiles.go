// Package profiles reads worker profile snapshots for ranking and claim
// eligibility. Profile contents are owned by an external system; this
// package only reads them and overlays the live session load.
package profiles

import (
	"context"

	"github.com/roadcall/backend/internal/models"
)

type Store interface {
	// Snapshot returns all worker profiles with their current active
	// session counts folded in.
	Snapshot(ctx context.Context) ([]models.WorkerProfile, error)
	// Get returns one profile, or nil when the worker is unknown.
	Get(ctx context.Context, workerID string) (*models.WorkerProfile, error)
}
