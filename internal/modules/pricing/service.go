// README: Pricing service resolves the base fare through the tier chain and applies modifiers.
package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"maat/internal/apperr"
	"maat/internal/modules/account"
	"maat/internal/modules/station"
	"maat/internal/types"
)

var (
	ErrProfileNotFound = apperr.New(apperr.KindNotFound, "pricing_profile_not_found", "pricing profile not found")
	ErrBadRequest      = apperr.New(apperr.KindValidation, "bad_request", "bad request")
)

// Catalog is the read side of the fare tables.
type Catalog interface {
	Profile(ctx context.Context, id types.ID) (*Profile, error)
	FareRecord(ctx context.Context, profileID, from, to types.ID) (int64, bool, error)
	SharedRouteDistance(ctx context.Context, from, to types.ID) (float64, bool, error)
	Coefficients(ctx context.Context, profileID types.ID) ([]Coefficient, error)
}

type Stations interface {
	Get(ctx context.Context, id types.ID) (*station.Station, error)
}

type Service struct {
	catalog   Catalog
	stations  Stations
	rules     Rules
	profileID types.ID
	now       func() time.Time
}

func NewService(catalog Catalog, stations Stations, rules Rules, profileID types.ID) *Service {
	return &Service{catalog: catalog, stations: stations, rules: rules, profileID: profileID, now: time.Now}
}

// WithClock replaces the clock used when a request carries no timestamp.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Rules() Rules { return s.rules }

// Quote computes the fare for a trip between two stations. It only reads catalog data,
// so identical inputs over an unchanged catalog give identical quotes.
func (s *Service) Quote(ctx context.Context, req Request) (Quote, error) {
	if req.From.ID == "" || req.To.ID == "" {
		return Quote{}, ErrBadRequest
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	rounding := int64(0)
	profile, err := s.catalog.Profile(ctx, s.profileID)
	switch {
	case err == nil:
		rounding = profile.Rounding
	case !errors.Is(err, ErrProfileNotFound):
		return Quote{}, err
	}

	base, err := s.resolveBase(ctx, req.From, req.To)
	if err != nil {
		return Quote{}, err
	}
	return Apply(s.rules, base, req.Class, at, rounding), nil
}

// QuoteBetween looks up both stations by id; used for fare estimates.
func (s *Service) QuoteBetween(ctx context.Context, from, to types.ID, class account.Class) (Quote, error) {
	if from == "" || to == "" {
		return Quote{}, ErrBadRequest
	}
	origin, err := s.stations.Get(ctx, from)
	if err != nil {
		return Quote{}, err
	}
	dest, err := s.stations.Get(ctx, to)
	if err != nil {
		return Quote{}, err
	}
	return s.Quote(ctx, Request{From: *origin, To: *dest, Class: class})
}

func (s *Service) resolveBase(ctx context.Context, from, to station.Station) (Base, error) {
	if from.ID == to.ID {
		return Base{Amount: decimal.Zero, Tier: TierMinimum}, nil
	}

	if price, ok, err := s.catalog.FareRecord(ctx, s.profileID, from.ID, to.ID); err != nil {
		return Base{}, err
	} else if ok {
		return Base{Amount: decimal.NewFromInt(price), Tier: TierDirect}, nil
	}
	if price, ok, err := s.catalog.FareRecord(ctx, s.profileID, to.ID, from.ID); err != nil {
		return Base{}, err
	} else if ok {
		return Base{Amount: decimal.NewFromInt(price), Tier: TierReverse}, nil
	}

	km, ok, err := s.catalog.SharedRouteDistance(ctx, from.ID, to.ID)
	if err != nil {
		return Base{}, err
	}
	if ok {
		coeffs, err := s.catalog.Coefficients(ctx, s.profileID)
		if err != nil {
			return Base{}, err
		}
		return CoefficientFare(coeffs, km, s.rules.FlatRatePerKm), nil
	}

	if from.Location != nil && to.Location != nil {
		return FlatFare(from.Location.DistanceKm(*to.Location), s.rules.FlatRatePerKm), nil
	}
	return Base{Amount: decimal.Zero, Tier: TierMinimum}, nil
}
