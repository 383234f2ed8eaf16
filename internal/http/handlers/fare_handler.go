// README: Fare quote and station listing handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"maat/internal/modules/account"
	"maat/internal/modules/pricing"
	"maat/internal/modules/station"
	"maat/internal/types"
)

type FareService interface {
	QuoteBetween(ctx context.Context, from, to types.ID, class account.Class) (pricing.Quote, error)
}

type StationService interface {
	List(ctx context.Context) ([]station.Station, error)
}

type FareHandler struct {
	fares    FareService
	stations StationService
}

func NewFareHandler(fares FareService, stations StationService) *FareHandler {
	return &FareHandler{fares: fares, stations: stations}
}

type quoteQuery struct {
	From  string `form:"from" binding:"required,max=64,resource_id"`
	To    string `form:"to" binding:"required,max=64,resource_id"`
	Class string `form:"class"`
}

func (h *FareHandler) Quote(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "from and to station ids are required")
		return
	}
	class, ok := account.ParseClass(q.Class)
	if !ok {
		writeError(c, http.StatusBadRequest, "bad_request", "class must be standard or regular")
		return
	}
	quote, err := h.fares.QuoteBetween(c.Request.Context(), types.ID(q.From), types.ID(q.To), class)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, quote)
}

type stationResp struct {
	ID       types.ID     `json:"id"`
	NameEn   string       `json:"name_en"`
	NameAr   string       `json:"name_ar"`
	Location *types.Point `json:"location,omitempty"`
	Zone     string       `json:"zone"`
	BaseFare types.Money  `json:"base_fare"`
	Active   bool         `json:"active"`
}

func (h *FareHandler) Stations(c *gin.Context) {
	list, err := h.stations.List(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}
	out := make([]stationResp, 0, len(list))
	for _, st := range list {
		out = append(out, stationResp{
			ID:       st.ID,
			NameEn:   st.NameEn,
			NameAr:   st.NameAr,
			Location: st.Location,
			Zone:     st.Zone,
			BaseFare: types.EGP(st.BaseFare),
			Active:   st.Active,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"stations": out})
}
