// README: Ledger store backed by PostgreSQL; balance changes are single conditional UPDATEs.
package ledger

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

// ApplyDelta adds delta to the rider balance unless the result would be negative.
// ok is false when no row qualified (rider missing or funds short).
func (s *Store) ApplyDelta(ctx context.Context, q infra.Querier, riderID types.ID, delta int64, now time.Time) (int64, bool, error) {
	var balance int64
	err := q.QueryRow(ctx, `
		UPDATE riders
		SET balance = balance + $2,
			updated_at = $3
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`,
		string(riderID), delta, now,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.FromStore(err)
	}
	return balance, true, nil
}

func (s *Store) Balance(ctx context.Context, q infra.Querier, riderID types.ID) (int64, error) {
	if q == nil {
		q = s.db
	}
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM riders WHERE id = $1`, string(riderID)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRiderNotFound
	}
	if err != nil {
		return 0, apperr.FromStore(err)
	}
	return balance, nil
}

// InsertEntry appends e. It returns false when an entry with the same idempotency key
// already exists for the rider.
func (s *Store) InsertEntry(ctx context.Context, q infra.Querier, e *Entry) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, rider_id, delta, balance_after, reason, actor, reference, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rider_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
		string(e.ID),
		string(e.RiderID),
		e.Delta,
		e.BalanceAfter,
		string(e.Reason),
		e.Actor,
		e.Reference,
		nullable(e.IdempotencyKey),
		e.CreatedAt,
	)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	return tag.RowsAffected() == 1, nil
}

const entryColumns = `id, rider_id, delta, balance_after, reason, actor, reference, idempotency_key, created_at`

func (s *Store) EntryByKey(ctx context.Context, riderID types.ID, key string) (*Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE rider_id = $1 AND idempotency_key = $2`, string(riderID), key,
	)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return e, nil
}

func (s *Store) Entries(ctx context.Context, riderID types.ID, limit int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE rider_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(riderID), limit)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.FromStore(err)
		}
		out = append(out, *e)
	}
	return out, apperr.FromStore(rows.Err())
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var reason string
	var key *string
	if err := row.Scan(&e.ID, &e.RiderID, &e.Delta, &e.BalanceAfter, &reason, &e.Actor, &e.Reference, &key, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Reason = Reason(reason)
	if key != nil {
		e.IdempotencyKey = *key
	}
	return &e, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
