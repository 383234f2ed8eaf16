// README: Rider and card store backed by PostgreSQL.
package account

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

func (s *Store) GetRider(ctx context.Context, id types.ID) (*Rider, error) {
	return getRider(ctx, s.db, id, false)
}

// LockRider reads the rider row with FOR UPDATE on q, which must be a transaction.
// Every operation that reads then changes a rider's trip or balance state goes through it.
func (s *Store) LockRider(ctx context.Context, q infra.Querier, id types.ID) (*Rider, error) {
	return getRider(ctx, q, id, true)
}

func getRider(ctx context.Context, q infra.Querier, id types.ID, lock bool) (*Rider, error) {
	query := `
		SELECT id, full_name, balance, class
		FROM riders
		WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var r Rider
	var class string
	err := q.QueryRow(ctx, query, string(id)).Scan(&r.ID, &r.FullName, &r.Balance, &class)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRiderNotFound
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	r.Class = Class(class)
	return &r, nil
}

func (s *Store) GetCard(ctx context.Context, uid string) (*Card, error) {
	var c Card
	var riderID, status *string
	err := s.db.QueryRow(ctx, `
		SELECT uid, rider_id, status
		FROM cards
		WHERE uid = $1`, uid,
	).Scan(&c.UID, &riderID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	if riderID != nil {
		id := types.ID(*riderID)
		c.RiderID = &id
	}
	c.Status = CardActive
	if status != nil {
		c.Status = CardStatus(*status)
	}
	return &c, nil
}

// ListCards returns the cards paired with riderID, oldest first.
func (s *Store) ListCards(ctx context.Context, riderID types.ID) ([]Card, error) {
	rows, err := s.db.Query(ctx, `
		SELECT uid, status
		FROM cards
		WHERE rider_id = $1
		ORDER BY created_at, uid`, string(riderID))
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	out := []Card{}
	for rows.Next() {
		c := Card{RiderID: &riderID}
		var status string
		if err := rows.Scan(&c.UID, &status); err != nil {
			return nil, apperr.FromStore(err)
		}
		c.Status = CardStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromStore(err)
	}
	return out, nil
}
