package profiles

import (
	"context"

	"github.com/roadcall/backend/internal/models"
)

// StaticStore serves a fixed profile set. Used in tests and in local
// development without a seeded database.
type StaticStore struct {
	Profiles []models.WorkerProfile
}

func NewStaticStore(profiles []models.WorkerProfile) *StaticStore {
	return &StaticStore{Profiles: profiles}
}

func (s *StaticStore) Snapshot(_ context.Context) ([]models.WorkerProfile, error) {
	out := make([]models.WorkerProfile, len(s.Profiles))
	copy(out, s.Profiles)
	return out, nil
}

func (s *StaticStore) Get(_ context.Context, workerID string) (*models.WorkerProfile, error) {
	for i := range s.Profiles {
		if s.Profiles[i].ID == workerID {
			p := s.Profiles[i]
			return &p, nil
		}
	}
	return nil, nil
}
