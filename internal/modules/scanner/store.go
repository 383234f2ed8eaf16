// README: Scanner store backed by PostgreSQL; devices are looked up by token digest.
package scanner

import (
	"context"
	"errors"
	"time"

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

func (s *Store) Insert(ctx context.Context, sc *Scanner, digest string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scanners (id, station_id, device_class, token_digest, is_active, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)`,
		string(sc.ID), string(sc.StationID), string(sc.Class), digest, sc.CreatedAt,
	)
	return apperr.FromStore(err)
}

const scannerColumns = `id, station_id, device_class, is_active, last_heartbeat, created_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*Scanner, error) {
	return scanScanner(s.db.QueryRow(ctx, `
		SELECT `+scannerColumns+`
		FROM scanners
		WHERE id = $1`, string(id)))
}

func (s *Store) GetByDigest(ctx context.Context, digest string) (*Scanner, error) {
	return scanScanner(s.db.QueryRow(ctx, `
		SELECT `+scannerColumns+`
		FROM scanners
		WHERE token_digest = $1`, digest))
}

func (s *Store) Deactivate(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE scanners SET is_active = FALSE WHERE id = $1`, string(id))
	if err != nil {
		return false, apperr.FromStore(err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchHeartbeat never moves last_heartbeat backwards.
func (s *Store) TouchHeartbeat(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scanners
		SET last_heartbeat = GREATEST(last_heartbeat, $2)
		WHERE id = $1`, string(id), at,
	)
	return apperr.FromStore(err)
}

func scanScanner(row pgx.Row) (*Scanner, error) {
	var sc Scanner
	var class string
	err := row.Scan(&sc.ID, &sc.StationID, &class, &sc.Active, &sc.LastHeartbeat, &sc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	sc.Class, err = ParseDeviceClass(class)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}
