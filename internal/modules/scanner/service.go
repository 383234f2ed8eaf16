// README: Scanner dispatch validates the device, resolves the card and routes the tap by device class.
package scanner

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"maat/internal/apperr"
	"maat/internal/logging"
	"maat/internal/modules/account"
	"maat/internal/modules/station"
	"maat/internal/modules/trip"
	"maat/internal/observability"
	"maat/internal/types"
)

var (
	ErrInvalidScanner  = apperr.New(apperr.KindUnauthorized, "invalid_scanner", "unknown or inactive scanner")
	ErrNotFound        = apperr.New(apperr.KindNotFound, "scanner_not_found", "scanner not found")
	ErrUnsupportedType = apperr.New(apperr.KindValidation, "unsupported_scanner_type", "unsupported scanner type")
	ErrScanInProgress  = apperr.New(apperr.KindConflict, "scan_in_progress", "another scan for this card is in progress")
	ErrBadRequest      = apperr.New(apperr.KindValidation, "bad_request", "bad request")
)

type Cards interface {
	ResolveCard(ctx context.Context, uid string) (*account.Card, *account.Rider, error)
}

type Trips interface {
	Open(ctx context.Context, cmd trip.OpenCommand) (*trip.Admission, error)
	Close(ctx context.Context, cmd trip.CloseCommand) (*trip.Receipt, error)
}

type Stations interface {
	Get(ctx context.Context, id types.ID) (*station.Station, error)
}

type Deps struct {
	Store      *Store
	Heartbeats *Heartbeats
	Locks      *CardLocks
	Cards      Cards
	Trips      Trips
	Stations   Stations
	Log        *slog.Logger
}

type Service struct {
	store      *Store
	heartbeats *Heartbeats
	locks      *CardLocks
	cards      Cards
	trips      Trips
	stations   Stations
	log        *slog.Logger
	now        func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{
		store:      deps.Store,
		heartbeats: deps.Heartbeats,
		locks:      deps.Locks,
		cards:      deps.Cards,
		trips:      deps.Trips,
		stations:   deps.Stations,
		log:        logging.OrDiscard(deps.Log),
		now:        time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Scan handles one card tap. Trip errors are returned unchanged so callers can
// distinguish a rider problem from a device problem.
func (s *Service) Scan(ctx context.Context, ev ScanEvent) (*Result, error) {
	start := s.now()
	res, class, err := s.scan(ctx, ev)
	outcome := "ok"
	if err != nil {
		outcome = apperr.CodeOf(err)
	}
	label := string(class)
	if label == "" {
		label = "unknown"
	}
	observability.ScansTotal.WithLabelValues(label, outcome).Inc()
	observability.ScanLatency.WithLabelValues(label).Observe(s.now().Sub(start).Seconds())
	return res, err
}

func (s *Service) scan(ctx context.Context, ev ScanEvent) (*Result, DeviceClass, error) {
	if ev.Token == "" || ev.CardUID == "" {
		return nil, "", ErrBadRequest
	}
	sc, err := s.store.GetByDigest(ctx, Digest(ev.Token))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, "", ErrInvalidScanner
	}
	if err != nil {
		return nil, "", err
	}
	if !sc.Active {
		return nil, sc.Class, ErrInvalidScanner
	}

	if err := s.heartbeats.Touch(ctx, sc.ID, s.now()); err != nil {
		observability.HeartbeatFailures.Inc()
		s.log.Warn("heartbeat not recorded", slog.String("scanner_id", string(sc.ID)), slog.Any("error", err))
	}

	card, rider, err := s.cards.ResolveCard(ctx, ev.CardUID)
	if err != nil {
		return nil, sc.Class, err
	}

	release, ok, err := s.locks.Acquire(ctx, card.UID)
	if err != nil {
		// The rider row lock still serializes trip changes; the card lock only absorbs double taps.
		s.log.Warn("card lock unavailable", slog.String("card_uid", card.UID), slog.Any("error", err))
		release, ok = func() {}, true
	}
	if !ok {
		return nil, sc.Class, ErrScanInProgress
	}
	defer release()

	res := &Result{Class: sc.Class, ScannerID: sc.ID, StationID: sc.StationID, CardUID: card.UID}
	switch sc.Class {
	case ClassEntry:
		res.Admission, err = s.trips.Open(ctx, trip.OpenCommand{RiderID: rider.ID, CardUID: card.UID, StationID: sc.StationID})
	case ClassExit:
		res.Receipt, err = s.trips.Close(ctx, trip.CloseCommand{RiderID: rider.ID, StationID: sc.StationID})
	case ClassRegistration:
		res.Rider = rider
	default:
		err = ErrUnsupportedType
	}
	if err != nil {
		s.log.Info("scan rejected",
			slog.String("scanner_id", string(sc.ID)),
			slog.String("card_uid", card.UID),
			slog.String("code", apperr.CodeOf(err)),
		)
		return nil, sc.Class, err
	}
	return res, sc.Class, nil
}

// Register creates a scanner at an in-service station and returns its capability token.
// Only the token digest is stored.
func (s *Service) Register(ctx context.Context, stationID types.ID, rawClass string) (*Registration, error) {
	if stationID == "" {
		return nil, ErrBadRequest
	}
	class, err := ParseDeviceClass(rawClass)
	if err != nil {
		return nil, err
	}
	if _, err := s.stations.Get(ctx, stationID); err != nil {
		return nil, err
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	sc := Scanner{
		ID:        types.NewID(),
		StationID: stationID,
		Class:     class,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.store.Insert(ctx, &sc, Digest(token)); err != nil {
		return nil, err
	}
	s.log.Info("scanner registered",
		slog.String("scanner_id", string(sc.ID)),
		slog.String("station_id", string(stationID)),
		slog.String("type", string(class)),
	)
	return &Registration{Scanner: sc, Token: token}, nil
}

func (s *Service) Deactivate(ctx context.Context, id types.ID) error {
	if id == "" {
		return ErrBadRequest
	}
	ok, err := s.store.Deactivate(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.log.Info("scanner deactivated", slog.String("scanner_id", string(id)))
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Scanner, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

// NewToken returns 128 random bits, hex encoded.
func NewToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
