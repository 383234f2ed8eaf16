// README: Station service resolves scanner and trip stations, rejecting closed ones.
package station

import (
	"context"

	"maat/internal/apperr"
	"maat/internal/types"
)

var (
	ErrNotFound = apperr.New(apperr.KindNotFound, "station_not_found", "station not found")
	ErrInactive = apperr.New(apperr.KindConflict, "station_inactive", "station is not in service")
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Get returns an in-service station.
func (s *Service) Get(ctx context.Context, id types.ID) (*Station, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.Active {
		return nil, ErrInactive
	}
	return st, nil
}

func (s *Service) List(ctx context.Context) ([]Station, error) {
	return s.store.List(ctx)
}

// Lookup returns a station whether or not it is in service. Exit pricing uses it for the
// entry station, which may have closed while the rider was travelling.
func (s *Service) Lookup(ctx context.Context, id types.ID) (*Station, error) {
	return s.store.Get(ctx, id)
}
