// README: Scanner handlers for card taps and admin device management.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"maat/internal/modules/scanner"
	"maat/internal/types"
)

type ScannerService interface {
	Scan(ctx context.Context, ev scanner.ScanEvent) (*scanner.Result, error)
	Register(ctx context.Context, stationID types.ID, class string) (*scanner.Registration, error)
	Deactivate(ctx context.Context, id types.ID) error
}

type ScannerHandler struct {
	scanners ScannerService
}

func NewScannerHandler(svc ScannerService) *ScannerHandler {
	return &ScannerHandler{scanners: svc}
}

type scanReq struct {
	CapabilityToken string `json:"capability_token" binding:"required"`
	CardID          string `json:"card_id" binding:"required"`
}

// Scan is authenticated by the device capability token in the body, not by a bearer token.
func (h *ScannerHandler) Scan(c *gin.Context) {
	var req scanReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "capability_token and card_id are required")
		return
	}
	res, err := h.scanners.Scan(c.Request.Context(), scanner.ScanEvent{Token: req.CapabilityToken, CardUID: req.CardID})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type registerScannerReq struct {
	StationID string `json:"station_id" binding:"required,max=64,resource_id"`
	Type      string `json:"type" binding:"required"`
}

func (h *ScannerHandler) Register(c *gin.Context) {
	var req registerScannerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "station_id and type are required")
		return
	}
	reg, err := h.scanners.Register(c.Request.Context(), types.ID(req.StationID), req.Type)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, reg)
}

func (h *ScannerHandler) Deactivate(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	if err := h.scanners.Deactivate(c.Request.Context(), types.ID(id)); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"scanner_id": id, "active": false})
}
