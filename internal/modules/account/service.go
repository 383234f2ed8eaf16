// README: Account service resolves a tapped card to its rider.
package account

import (
	"context"

	"maat/internal/apperr"
	"maat/internal/types"
)

var (
	ErrRiderNotFound = apperr.New(apperr.KindNotFound, "rider_not_found", "rider not found")
	ErrCardNotFound  = apperr.New(apperr.KindNotFound, "card_not_found", "card not found")
	ErrCardRevoked   = apperr.New(apperr.KindConflict, "card_revoked", "card has been revoked")
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) GetRider(ctx context.Context, id types.ID) (*Rider, error) {
	return s.store.GetRider(ctx, id)
}

// ResolveCard maps a card uid to its rider. Unpaired cards are reported as not found.
func (s *Service) ResolveCard(ctx context.Context, uid string) (*Card, *Rider, error) {
	card, err := s.store.GetCard(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	if card.Status == CardRevoked {
		return nil, nil, ErrCardRevoked
	}
	if card.RiderID == nil {
		return nil, nil, ErrCardNotFound
	}
	rider, err := s.store.GetRider(ctx, *card.RiderID)
	if err != nil {
		return nil, nil, err
	}
	return card, rider, nil
}

// GetCard returns the card whatever its status or pairing.
func (s *Service) GetCard(ctx context.Context, uid string) (*Card, error) {
	return s.store.GetCard(ctx, uid)
}

// RiderCards lists a rider's cards, revoked ones included. An unknown rider is not found.
func (s *Service) RiderCards(ctx context.Context, riderID types.ID) ([]Card, error) {
	if _, err := s.store.GetRider(ctx, riderID); err != nil {
		return nil, err
	}
	return s.store.ListCards(ctx, riderID)
}
