// README: Ledger service applies debits, credits and idempotent top-ups.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"maat/internal/apperr"
	"maat/internal/events"
	"maat/internal/infra"
	"maat/internal/logging"
	"maat/internal/observability"
	"maat/internal/types"
)

var (
	ErrRiderNotFound       = apperr.New(apperr.KindNotFound, "rider_not_found", "rider not found")
	ErrInsufficientFunds   = apperr.New(apperr.KindInsufficientFunds, "insufficient_funds", "insufficient funds")
	ErrInvalidAmount       = apperr.New(apperr.KindValidation, "invalid_amount", "invalid amount")
	ErrDuplicateMutation   = apperr.New(apperr.KindConflict, "duplicate_mutation", "mutation already applied")
	ErrIdempotencyMismatch = apperr.New(apperr.KindConflict, "idempotency_key_reused", "idempotency key reused with different amount")
	ErrEntryNotFound       = apperr.New(apperr.KindNotFound, "ledger_entry_not_found", "ledger entry not found")
)

const (
	DefaultEntriesLimit = 50
	MaxEntriesLimit     = 500
)

type Service struct {
	db        infra.DB
	store     *Store
	maxTopUp  int64
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
}

func NewService(db infra.DB, store *Store, maxTopUp int64, publisher events.Publisher, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		db:        db,
		store:     store,
		maxTopUp:  maxTopUp,
		publisher: publisher,
		log:       logging.OrDiscard(log),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// DebitTx subtracts m.Amount inside the caller's transaction. A shortfall fails with
// ErrInsufficientFunds carrying the missing amount; the balance is left untouched.
func (s *Service) DebitTx(ctx context.Context, q infra.Querier, m Mutation) (*Entry, error) {
	return s.apply(ctx, q, m, -m.Amount)
}

// CreditTx adds m.Amount inside the caller's transaction.
func (s *Service) CreditTx(ctx context.Context, q infra.Querier, m Mutation) (*Entry, error) {
	return s.apply(ctx, q, m, m.Amount)
}

func (s *Service) Debit(ctx context.Context, m Mutation) (*Entry, error) {
	var entry *Entry
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	observability.LedgerMutations.WithLabelValues(string(entry.Reason)).Inc()
	return entry, nil
}

func (s *Service) Credit(ctx context.Context, m Mutation) (*Entry, error) {
	var entry *Entry
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	observability.LedgerMutations.WithLabelValues(string(entry.Reason)).Inc()
	return entry, nil
}

func (s *Service) apply(ctx context.Context, q infra.Querier, m Mutation, delta int64) (*Entry, error) {
	if m.RiderID == "" || m.Amount <= 0 || m.Reason == "" {
		return nil, ErrInvalidAmount
	}
	now := s.now()
	balance, ok, err := s.store.ApplyDelta(ctx, q, m.RiderID, delta, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.Balance(ctx, q, m.RiderID)
		if err != nil {
			return nil, err
		}
		return nil, ErrInsufficientFunds.WithShortfall(-(current + delta))
	}

	entry := &Entry{
		ID:             types.NewID(),
		RiderID:        m.RiderID,
		Delta:          delta,
		BalanceAfter:   balance,
		Reason:         m.Reason,
		Actor:          m.Actor,
		Reference:      m.Reference,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      now,
	}
	inserted, err := s.store.InsertEntry(ctx, q, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrDuplicateMutation
	}
	return entry, nil
}

// TopUp credits a rider. Requests repeating an idempotency key return the entry that
// was applied first; replayed reports whether that happened.
func (s *Service) TopUp(ctx context.Context, t TopUp) (entry *Entry, replayed bool, err error) {
	if t.RiderID == "" || t.Amount <= 0 || t.Amount > s.maxTopUp {
		return nil, false, ErrInvalidAmount
	}
	if t.IdempotencyKey != "" {
		if prior, err := s.replay(ctx, t); err == nil {
			return prior, true, nil
		} else if !errors.Is(err, ErrEntryNotFound) {
			return nil, false, err
		}
	}

	m := Mutation{
		RiderID:        t.RiderID,
		Amount:         t.Amount,
		Reason:         ReasonTopUp,
		Actor:          t.Source,
		Reference:      t.Source,
		IdempotencyKey: t.IdempotencyKey,
	}
	err = infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, m)
		return err
	})
	if errors.Is(err, ErrDuplicateMutation) {
		prior, err := s.replay(ctx, t)
		if err != nil {
			return nil, false, err
		}
		return prior, true, nil
	}
	if err != nil {
		return nil, false, apperr.FromStore(err)
	}

	observability.LedgerMutations.WithLabelValues(string(ReasonTopUp)).Inc()
	s.log.Info("top up applied",
		slog.String("rider_id", string(t.RiderID)),
		slog.Int64("amount", t.Amount),
		slog.Int64("balance", entry.BalanceAfter),
	)
	events.Emit(ctx, s.publisher, s.log, events.TopicLedgerCredited, string(t.RiderID), events.LedgerCredited{
		EntryID:      entry.ID,
		RiderID:      entry.RiderID,
		Amount:       entry.Delta,
		BalanceAfter: entry.BalanceAfter,
		Reason:       string(entry.Reason),
		At:           entry.CreatedAt,
	})
	return entry, false, nil
}

func (s *Service) replay(ctx context.Context, t TopUp) (*Entry, error) {
	prior, err := s.store.EntryByKey(ctx, t.RiderID, t.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior.Delta != t.Amount || prior.Reason != ReasonTopUp {
		return nil, ErrIdempotencyMismatch
	}
	return prior, nil
}

func (s *Service) Balance(ctx context.Context, riderID types.ID) (int64, error) {
	if riderID == "" {
		return 0, ErrRiderNotFound
	}
	return s.store.Balance(ctx, nil, riderID)
}

func (s *Service) Entries(ctx context.Context, riderID types.ID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	if limit > MaxEntriesLimit {
		limit = MaxEntriesLimit
	}
	return s.store.Entries(ctx, riderID, limit)
}
