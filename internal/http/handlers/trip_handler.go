// README: Trip handlers for lookups, card history and admin refunds and cancellations.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"maat/internal/http/middleware"
	"maat/internal/modules/account"
	"maat/internal/modules/trip"
	"maat/internal/types"
)

type TripService interface {
	Get(ctx context.Context, id types.ID) (*trip.Trip, error)
	History(ctx context.Context, cardUID string, limit int) ([]trip.Trip, error)
	RiderHistory(ctx context.Context, riderID types.ID, limit int) ([]trip.Trip, error)
	Refund(ctx context.Context, cmd trip.RefundCommand) (*trip.RefundResult, error)
	Cancel(ctx context.Context, id types.ID, actor string) error
}

type CardService interface {
	GetCard(ctx context.Context, uid string) (*account.Card, error)
	RiderCards(ctx context.Context, riderID types.ID) ([]account.Card, error)
}

type TripHandler struct {
	trips TripService
	cards CardService
}

func NewTripHandler(trips TripService, cards CardService) *TripHandler {
	return &TripHandler{trips: trips, cards: cards}
}

func (h *TripHandler) Get(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if !selfOrAdmin(c, string(t.RiderID)) {
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TripHandler) CardTrips(c *gin.Context) {
	uid, ok := bindCardUID(c)
	if !ok {
		return
	}
	card, err := h.cards.GetCard(c.Request.Context(), uid)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if !middleware.IsAdmin(c) {
		if card.RiderID == nil {
			writeError(c, http.StatusForbidden, "forbidden", "card is not paired")
			return
		}
		if !selfOrAdmin(c, string(*card.RiderID)) {
			return
		}
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	trips, err := h.trips.History(c.Request.Context(), uid, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"card_id": uid, "trips": trips})
}

type refundReq struct {
	Amount int64 `json:"amount"`
}

// Refund takes an optional body; without an amount the full fare is refunded.
func (h *TripHandler) Refund(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	var req refundReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	res, err := h.trips.Refund(c.Request.Context(), trip.RefundCommand{
		TripID: types.ID(id),
		Amount: req.Amount,
		Actor:  middleware.CallerUID(c),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *TripHandler) Cancel(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	if err := h.trips.Cancel(c.Request.Context(), types.ID(id), middleware.CallerUID(c)); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "status": trip.StatusCancelled})
}
