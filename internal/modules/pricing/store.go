// README: Pricing catalog store backed by PostgreSQL (profiles, fare table, route distances, coefficients).
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"maat/internal/apperr"
	"maat/internal/infra"
	"maat/internal/types"
)

type Store struct {
	db infra.Querier
}

func NewStore(db infra.Querier) *Store {
	return &Store{db: db}
}

func (s *Store) Profile(ctx context.Context, id types.ID) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, `
		SELECT id, name, rounding
		FROM pricing_profiles
		WHERE id = $1`, string(id),
	).Scan(&p.ID, &p.Name, &p.Rounding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return &p, nil
}

// FareRecord returns the precomputed price for exactly this direction.
func (s *Store) FareRecord(ctx context.Context, profileID, from, to types.ID) (int64, bool, error) {
	var price int64
	err := s.db.QueryRow(ctx, `
		SELECT price
		FROM fares
		WHERE profile_id = $1 AND from_station_id = $2 AND to_station_id = $3`,
		string(profileID), string(from), string(to),
	).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.FromStore(err)
	}
	return price, true, nil
}

// SharedRouteDistance returns the shortest |d(to) - d(from)| over routes serving both
// stations. Ties go to the lowest route id.
func (s *Store) SharedRouteDistance(ctx context.Context, from, to types.ID) (float64, bool, error) {
	var km float64
	err := s.db.QueryRow(ctx, `
		SELECT ABS(b.distance_km - a.distance_km) AS km
		FROM route_stops a
		JOIN route_stops b ON b.route_id = a.route_id
		WHERE a.station_id = $1 AND b.station_id = $2
		ORDER BY km ASC, a.route_id ASC
		LIMIT 1`, string(from), string(to),
	).Scan(&km)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.FromStore(err)
	}
	return km, true, nil
}

func (s *Store) Coefficients(ctx context.Context, profileID types.ID) ([]Coefficient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT interval_distance, coefficient_a, coefficient_b
		FROM pricing_coefficients
		WHERE profile_id = $1
		ORDER BY interval_distance ASC`, string(profileID))
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	var out []Coefficient
	for rows.Next() {
		var c Coefficient
		if err := rows.Scan(&c.IntervalKm, &c.A, &c.B); err != nil {
			return nil, apperr.FromStore(err)
		}
		out = append(out, c)
	}
	return out, apperr.FromStore(rows.Err())
}
