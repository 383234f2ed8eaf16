// README: Rider handlers for balance, ledger, top-ups and trip history.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"maat/internal/http/middleware"
	"maat/internal/modules/ledger"
	"maat/internal/types"
)

type LedgerService interface {
	Balance(ctx context.Context, riderID types.ID) (int64, error)
	Entries(ctx context.Context, riderID types.ID, limit int) ([]ledger.Entry, error)
	TopUp(ctx context.Context, t ledger.TopUp) (*ledger.Entry, bool, error)
}

type RiderHandler struct {
	ledger LedgerService
	trips  TripService
	cards  CardService
}

func NewRiderHandler(ledgerSvc LedgerService, trips TripService, cards CardService) *RiderHandler {
	return &RiderHandler{ledger: ledgerSvc, trips: trips, cards: cards}
}

func (h *RiderHandler) riderID(c *gin.Context) (types.ID, bool) {
	id, ok := bindID(c)
	if !ok || !selfOrAdmin(c, id) {
		return "", false
	}
	return types.ID(id), true
}

func (h *RiderHandler) Balance(c *gin.Context) {
	id, ok := h.riderID(c)
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rider_id": id, "balance": types.EGP(balance)})
}

func (h *RiderHandler) Ledger(c *gin.Context) {
	id, ok := h.riderID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	entries, err := h.ledger.Entries(c.Request.Context(), id, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rider_id": id, "entries": entries})
}

type topUpReq struct {
	Amount int64  `json:"amount"`
	Source string `json:"source"`
}

// TopUp answers 201 when the credit is applied and 200 when an earlier request with the
// same Idempotency-Key is replayed.
func (h *RiderHandler) TopUp(c *gin.Context) {
	id, ok := h.riderID(c)
	if !ok {
		return
	}
	var req topUpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	source := req.Source
	if source == "" {
		source = "api:" + middleware.CallerUID(c)
	}
	entry, replayed, err := h.ledger.TopUp(c.Request.Context(), ledger.TopUp{
		RiderID:        id,
		Amount:         req.Amount,
		Source:         source,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(c, status, gin.H{"entry": entry, "balance": types.EGP(entry.BalanceAfter), "replayed": replayed})
}

func (h *RiderHandler) Trips(c *gin.Context) {
	id, ok := h.riderID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	trips, err := h.trips.RiderHistory(c.Request.Context(), id, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rider_id": id, "trips": trips})
}

type cardResp struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

func (h *RiderHandler) Cards(c *gin.Context) {
	id, ok := h.riderID(c)
	if !ok {
		return
	}
	cards, err := h.cards.RiderCards(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	out := make([]cardResp, 0, len(cards))
	for _, card := range cards {
		out = append(out, cardResp{UID: card.UID, Status: string(card.Status)})
	}
	writeJSON(c, http.StatusOK, gin.H{"rider_id": id, "cards": out})
}
