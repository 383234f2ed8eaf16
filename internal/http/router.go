// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maat/internal/http/middleware"
)

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/scanners/scan", s.scanners.Scan)
	api.GET("/fares/quote", s.fares.Quote)
	api.GET("/stations", s.fares.Stations)

	authed := api.Group("", middleware.Auth(s.verifier))
	authed.GET("/riders/:id/balance", s.riders.Balance)
	authed.GET("/riders/:id/ledger", s.riders.Ledger)
	authed.POST("/riders/:id/topup", s.riders.TopUp)
	authed.GET("/riders/:id/trips", s.riders.Trips)
	authed.GET("/riders/:id/cards", s.riders.Cards)
	authed.GET("/cards/:uid/trips", s.trips.CardTrips)
	authed.GET("/trips/:id", s.trips.Get)

	admin := authed.Group("", middleware.RequireRole(middleware.RoleAdmin))
	admin.POST("/scanners", s.scanners.Register)
	admin.POST("/scanners/:id/deactivate", s.scanners.Deactivate)
	admin.POST("/trips/:id/refund", s.trips.Refund)
	admin.POST("/trips/:id/cancel", s.trips.Cancel)

	return r
}
