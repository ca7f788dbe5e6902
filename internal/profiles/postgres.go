package profiles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/roadcall/backend/internal/db"
	"github.com/roadcall/backend/internal/models"
)

// PostgresStore reads worker_profiles and joins the live non-terminal
// session count per worker.
type PostgresStore struct {
	store *db.Store
}

func NewPostgresStore(store *db.Store) *PostgresStore {
	return &PostgresStore{store: store}
}

const profileQuery = `
	SELECT p.id, p.name, p.available, p.service_keywords, p.brand_specialties,
		p.specialist_tier, p.certified, p.country, p.city, p.session_cap, p.last_assigned_at,
		COUNT(s.id) AS active_sessions
	FROM worker_profiles p
	LEFT JOIN sessions s ON s.worker_id = p.id
		AND s.status IN ('pending', 'scheduled', 'waiting', 'live')
`

func scanProfile(row pgx.Row) (*models.WorkerProfile, error) {
	var p models.WorkerProfile
	err := row.Scan(
		&p.ID, &p.Name, &p.Available, &p.ServiceKeywords, &p.BrandSpecialties,
		&p.SpecialistTier, &p.Certified, &p.Country, &p.City, &p.SessionCap, &p.LastAssignedAt,
		&p.ActiveSessionCount,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (ps *PostgresStore) Snapshot(ctx context.Context) ([]models.WorkerProfile, error) {
	rows, err := ps.store.Pool.Query(ctx, profileQuery+`
		GROUP BY p.id
		ORDER BY p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WorkerProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) Get(ctx context.Context, workerID string) (*models.WorkerProfile, error) {
	row := ps.store.Pool.QueryRow(ctx, profileQuery+`
		WHERE p.id = $1
		GROUP BY p.id
	`, workerID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}
