// README: Trip store backed by PostgreSQL; transitions are guarded by the current status.
package trip

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"maat/internal/apperr"
	"maat/internal/infra"
	"maat/internal/types"
)

const activeTripIndex = "uq_trips_one_active_per_rider"

type Store struct {
	db infra.Querier
}

func NewStore(db infra.Querier) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, q infra.Querier, t *Trip) error {
	_, err := q.Exec(ctx, `
		INSERT INTO trips (
			id, rider_id, card_uid, entry_station_id, entry_at, status
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(t.ID),
		string(t.RiderID),
		t.CardUID,
		string(t.EntryStationID),
		t.EntryAt,
		string(t.Status),
	)
	if apperr.IsUniqueViolation(err, activeTripIndex) {
		return ErrAlreadyOnTrip
	}
	return apperr.FromStore(err)
}

func (s *Store) HasActive(ctx context.Context, q infra.Querier, riderID types.ID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trips
			WHERE rider_id = $1 AND status = 'active'
		)`, string(riderID),
	).Scan(&exists)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	return exists, nil
}

// ActiveForUpdate locks and returns the rider's open trip.
func (s *Store) ActiveForUpdate(ctx context.Context, q infra.Querier, riderID types.ID) (*Trip, error) {
	var t Trip
	var status string
	err := q.QueryRow(ctx, `
		SELECT id, rider_id, card_uid, entry_station_id, entry_at, status
		FROM trips
		WHERE rider_id = $1 AND status = 'active'
		FOR UPDATE`, string(riderID),
	).Scan(&t.ID, &t.RiderID, &t.CardUID, &t.EntryStationID, &t.EntryAt, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveTrip
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	t.Status = Status(status)
	return &t, nil
}

// Complete closes an active trip. It reports false when the trip was no longer active.
func (s *Store) Complete(ctx context.Context, q infra.Querier, id, exitStationID types.ID, exitAt time.Time, fare int64) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE trips
		SET status = 'completed',
			exit_station_id = $2,
			exit_at = $3,
			fare = $4
		WHERE id = $1 AND status = 'active'`,
		string(id), string(exitStationID), exitAt, fare,
	)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Cancel(ctx context.Context, q infra.Querier, id types.ID) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE trips
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'active'`, string(id),
	)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRefunded records a refund once per trip.
func (s *Store) MarkRefunded(ctx context.Context, q infra.Querier, id types.ID, amount int64) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE trips
		SET refunded = $2
		WHERE id = $1 AND status = 'completed' AND refunded = 0 AND $2 <= fare`,
		string(id), amount,
	)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	return tag.RowsAffected() == 1, nil
}

const tripColumns = `id, rider_id, card_uid, entry_station_id, entry_at, exit_station_id, exit_at, fare, refunded, status`

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.get(ctx, s.db, id, false)
}

func (s *Store) GetForUpdate(ctx context.Context, q infra.Querier, id types.ID) (*Trip, error) {
	return s.get(ctx, q, id, true)
}

func (s *Store) get(ctx context.Context, q infra.Querier, id types.ID, lock bool) (*Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	t, err := scanTrip(q.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return t, nil
}

func (s *Store) ListByCard(ctx context.Context, cardUID string, limit int) ([]Trip, error) {
	return s.list(ctx, `card_uid = $1`, cardUID, limit)
}

func (s *Store) ListByRider(ctx context.Context, riderID types.ID, limit int) ([]Trip, error) {
	return s.list(ctx, `rider_id = $1`, string(riderID), limit)
}

func (s *Store) list(ctx context.Context, where string, arg string, limit int) ([]Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE `+where+`
		ORDER BY entry_at DESC, id DESC
		LIMIT $2`, arg, limit)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	out := []Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, apperr.FromStore(err)
		}
		out = append(out, *t)
	}
	return out, apperr.FromStore(rows.Err())
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var exitStation *string
	var status string
	err := row.Scan(
		&t.ID, &t.RiderID, &t.CardUID, &t.EntryStationID, &t.EntryAt,
		&exitStation, &t.ExitAt, &t.Fare, &t.Refunded, &status,
	)
	if err != nil {
		return nil, err
	}
	if exitStation != nil {
		id := types.ID(*exitStation)
		t.ExitStationID = &id
	}
	t.Status = Status(status)
	return &t, nil
}
