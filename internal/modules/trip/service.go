// README: Trip service opens trips on entry scans and prices and closes them on exit scans.
package trip

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"maat/internal/apperr"
	"maat/internal/events"
	"maat/internal/infra"
	"maat/internal/logging"
	"maat/internal/modules/account"
	"maat/internal/modules/ledger"
	"maat/internal/modules/pricing"
	"maat/internal/modules/station"
	"maat/internal/observability"
	"maat/internal/types"
)

var (
	ErrAlreadyOnTrip       = apperr.New(apperr.KindConflict, "already_on_trip", "rider already has an active trip")
	ErrNoActiveTrip        = apperr.New(apperr.KindConflict, "no_active_trip", "rider has no active trip")
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficientFunds, "insufficient_balance", "balance below the station base fare")
	ErrNotFound            = apperr.New(apperr.KindNotFound, "trip_not_found", "trip not found")
	ErrConflict            = apperr.New(apperr.KindConflict, "trip_state_conflict", "trip state changed concurrently")
	ErrInvalidState        = apperr.New(apperr.KindConflict, "invalid_trip_state", "invalid trip state transition")
	ErrAlreadyRefunded     = apperr.New(apperr.KindConflict, "trip_already_refunded", "trip already refunded")
	ErrRefundTooLarge      = apperr.New(apperr.KindValidation, "refund_exceeds_fare", "refund exceeds the charged fare")
	ErrBadRequest          = apperr.New(apperr.KindValidation, "bad_request", "bad request")
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

type Stations interface {
	// Get returns an in-service station.
	Get(ctx context.Context, id types.ID) (*station.Station, error)
	// Lookup returns a station regardless of its service status.
	Lookup(ctx context.Context, id types.ID) (*station.Station, error)
}

type Riders interface {
	LockRider(ctx context.Context, q infra.Querier, id types.ID) (*account.Rider, error)
}

type Pricer interface {
	Quote(ctx context.Context, req pricing.Request) (pricing.Quote, error)
}

type Ledger interface {
	DebitTx(ctx context.Context, q infra.Querier, m ledger.Mutation) (*ledger.Entry, error)
	CreditTx(ctx context.Context, q infra.Querier, m ledger.Mutation) (*ledger.Entry, error)
}

type Deps struct {
	DB        infra.DB
	Store     *Store
	Stations  Stations
	Riders    Riders
	Pricer    Pricer
	Ledger    Ledger
	Publisher events.Publisher
	Log       *slog.Logger
}

type Service struct {
	db        infra.DB
	store     *Store
	stations  Stations
	riders    Riders
	pricer    Pricer
	ledger    Ledger
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
}

func NewService(deps Deps) *Service {
	pub := deps.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		db:        deps.DB,
		store:     deps.Store,
		stations:  deps.Stations,
		riders:    deps.Riders,
		pricer:    deps.Pricer,
		ledger:    deps.Ledger,
		publisher: pub,
		log:       logging.OrDiscard(deps.Log),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type OpenCommand struct {
	RiderID   types.ID
	CardUID   string
	StationID types.ID
}

type CloseCommand struct {
	RiderID   types.ID
	StationID types.ID
}

type RefundCommand struct {
	TripID types.ID
	// Amount defaults to the full fare when zero.
	Amount int64
	Actor  string
}

// Open admits a rider at an entry station. The rider row is locked for the whole check
// so concurrent entry scans for one rider serialize and at most one trip opens.
func (s *Service) Open(ctx context.Context, cmd OpenCommand) (*Admission, error) {
	if cmd.RiderID == "" || cmd.StationID == "" {
		return nil, ErrBadRequest
	}
	st, err := s.stations.Get(ctx, cmd.StationID)
	if err != nil {
		return nil, err
	}

	t := &Trip{
		ID:             types.NewID(),
		RiderID:        cmd.RiderID,
		CardUID:        cmd.CardUID,
		EntryStationID: st.ID,
		EntryAt:        s.now(),
		Status:         StatusActive,
	}
	var balance int64
	err = infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		rider, err := s.riders.LockRider(ctx, tx, cmd.RiderID)
		if err != nil {
			return err
		}
		active, err := s.store.HasActive(ctx, tx, rider.ID)
		if err != nil {
			return err
		}
		if active {
			return ErrAlreadyOnTrip
		}
		if rider.Balance < st.BaseFare {
			return ErrInsufficientBalance.WithShortfall(st.BaseFare - rider.Balance)
		}
		balance = rider.Balance
		return s.store.Insert(ctx, tx, t)
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	observability.TripsOpened.Inc()
	s.log.Info("trip opened",
		slog.String("trip_id", string(t.ID)),
		slog.String("rider_id", string(t.RiderID)),
		slog.String("station_id", string(t.EntryStationID)),
	)
	events.Emit(ctx, s.publisher, s.log, events.TopicTripOpened, string(t.RiderID), events.TripOpened{
		TripID:         t.ID,
		RiderID:        t.RiderID,
		CardUID:        t.CardUID,
		StationID:      t.EntryStationID,
		BalanceAtEntry: balance,
		At:             t.EntryAt,
	})
	return &Admission{TripID: t.ID, BalanceAtEntry: balance}, nil
}

// Close prices the rider's active trip against the exit station, debits the fare and
// completes the trip in one transaction. Any failure leaves the trip active.
func (s *Service) Close(ctx context.Context, cmd CloseCommand) (*Receipt, error) {
	if cmd.RiderID == "" || cmd.StationID == "" {
		return nil, ErrBadRequest
	}
	exit, err := s.stations.Get(ctx, cmd.StationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		t       *Trip
		quote   pricing.Quote
		receipt *Receipt
	)
	err = infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		rider, err := s.riders.LockRider(ctx, tx, cmd.RiderID)
		if err != nil {
			return err
		}
		t, err = s.store.ActiveForUpdate(ctx, tx, rider.ID)
		if err != nil {
			return err
		}
		entry, err := s.stations.Lookup(ctx, t.EntryStationID)
		if err != nil {
			return err
		}
		quote, err = s.pricer.Quote(ctx, pricing.Request{From: *entry, To: *exit, Class: rider.Class, At: now})
		if err != nil {
			return err
		}
		debit, err := s.ledger.DebitTx(ctx, tx, ledger.Mutation{
			RiderID:        rider.ID,
			Amount:         quote.Amount,
			Reason:         ledger.ReasonTripFare,
			Actor:          "system",
			Reference:      string(t.ID),
			IdempotencyKey: "fare:" + string(t.ID),
		})
		if errors.Is(err, ledger.ErrDuplicateMutation) {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		ok, err := s.store.Complete(ctx, tx, t.ID, exit.ID, now, quote.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		receipt = &Receipt{
			TripID:          t.ID,
			Fare:            quote.Amount,
			NewBalance:      debit.BalanceAfter,
			DurationMinutes: durationMinutes(t.EntryAt, now),
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	observability.TripsCompleted.Inc()
	observability.FareAmount.WithLabelValues(string(quote.Tier)).Observe(float64(quote.Amount))
	observability.LedgerMutations.WithLabelValues(string(ledger.ReasonTripFare)).Inc()
	s.log.Info("trip completed",
		slog.String("trip_id", string(t.ID)),
		slog.String("rider_id", string(t.RiderID)),
		slog.Int64("fare", receipt.Fare),
		slog.String("tier", string(quote.Tier)),
	)
	events.Emit(ctx, s.publisher, s.log, events.TopicTripCompleted, string(t.RiderID), events.TripCompleted{
		TripID:          t.ID,
		RiderID:         t.RiderID,
		EntryStationID:  t.EntryStationID,
		ExitStationID:   exit.ID,
		Fare:            receipt.Fare,
		Tier:            string(quote.Tier),
		NewBalance:      receipt.NewBalance,
		DurationMinutes: receipt.DurationMinutes,
		At:              now,
	})
	return receipt, nil
}

func durationMinutes(from, to time.Time) int64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int64(math.Round(d.Minutes()))
}

// Cancel voids an active trip without charging it.
func (s *Service) Cancel(ctx context.Context, id types.ID, actor string) error {
	if id == "" {
		return ErrBadRequest
	}
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		t, err := s.store.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(t.Status, StatusCancelled) {
			return ErrInvalidState
		}
		ok, err := s.store.Cancel(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return apperr.FromStore(err)
	}
	s.log.Info("trip cancelled", slog.String("trip_id", string(id)), slog.String("actor", actor))
	return nil
}

// Refund credits back part or all of a completed trip's fare. A trip is refunded at most once.
func (s *Service) Refund(ctx context.Context, cmd RefundCommand) (*RefundResult, error) {
	if cmd.TripID == "" || cmd.Amount < 0 {
		return nil, ErrBadRequest
	}
	var (
		t      *Trip
		result *RefundResult
	)
	now := s.now()
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		t, err = s.store.GetForUpdate(ctx, tx, cmd.TripID)
		if err != nil {
			return err
		}
		if t.Status != StatusCompleted || t.Fare == nil {
			return ErrInvalidState
		}
		if t.Refunded > 0 {
			return ErrAlreadyRefunded
		}
		amount := cmd.Amount
		if amount == 0 {
			amount = *t.Fare
		}
		if amount <= 0 || amount > *t.Fare {
			return ErrRefundTooLarge
		}
		credit, err := s.ledger.CreditTx(ctx, tx, ledger.Mutation{
			RiderID:        t.RiderID,
			Amount:         amount,
			Reason:         ledger.ReasonRefund,
			Actor:          cmd.Actor,
			Reference:      string(t.ID),
			IdempotencyKey: "refund:" + string(t.ID),
		})
		if errors.Is(err, ledger.ErrDuplicateMutation) {
			return ErrAlreadyRefunded
		}
		if err != nil {
			return err
		}
		ok, err := s.store.MarkRefunded(ctx, tx, t.ID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		result = &RefundResult{TripID: t.ID, Amount: amount, NewBalance: credit.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	observability.LedgerMutations.WithLabelValues(string(ledger.ReasonRefund)).Inc()
	s.log.Info("trip refunded",
		slog.String("trip_id", string(t.ID)),
		slog.Int64("amount", result.Amount),
		slog.String("actor", cmd.Actor),
	)
	events.Emit(ctx, s.publisher, s.log, events.TopicTripRefunded, string(t.RiderID), events.TripRefunded{
		TripID:     t.ID,
		RiderID:    t.RiderID,
		Amount:     result.Amount,
		NewBalance: result.NewBalance,
		Actor:      cmd.Actor,
		At:         now,
	})
	return result, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

// History lists trips taken with a card, newest first.
func (s *Service) History(ctx context.Context, cardUID string, limit int) ([]Trip, error) {
	if cardUID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListByCard(ctx, cardUID, clampLimit(limit))
}

func (s *Service) RiderHistory(ctx context.Context, riderID types.ID, limit int) ([]Trip, error) {
	if riderID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListByRider(ctx, riderID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
