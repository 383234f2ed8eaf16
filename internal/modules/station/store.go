// README: Station store backed by PostgreSQL (read-only catalog access).
package station

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

const stationColumns = `id, name_en, name_ar, lat, lng, zone, base_fare, is_active`

func (s *Store) Get(ctx context.Context, id types.ID) (*Station, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+stationColumns+`
		FROM stations
		WHERE id = $1`, string(id),
	)
	st, err := scanStation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return st, nil
}

func (s *Store) List(ctx context.Context) ([]Station, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+stationColumns+`
		FROM stations
		ORDER BY id`)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, apperr.FromStore(err)
		}
		out = append(out, *st)
	}
	return out, apperr.FromStore(rows.Err())
}

func scanStation(row pgx.Row) (*Station, error) {
	var st Station
	var lat, lng *float64
	if err := row.Scan(&st.ID, &st.NameEn, &st.NameAr, &lat, &lng, &st.Zone, &st.BaseFare, &st.Active); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		st.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &st, nil
}
