// README: API gateway; holds the module services the HTTP routes delegate to.
package http

import (
	"log/slog"

	"maat/internal/http/handlers"
	"maat/internal/infra"
	"maat/internal/logging"
)

type ServerDeps struct {
	Scanners handlers.ScannerService
	Ledger   handlers.LedgerService
	Trips    handlers.TripService
	Cards    handlers.CardService
	Fares    handlers.FareService
	Stations handlers.StationService
	Verifier infra.TokenVerifier
	Log      *slog.Logger
}

type Server struct {
	scanners *handlers.ScannerHandler
	riders   *handlers.RiderHandler
	trips    *handlers.TripHandler
	fares    *handlers.FareHandler
	verifier infra.TokenVerifier
	log      *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		scanners: handlers.NewScannerHandler(deps.Scanners),
		riders:   handlers.NewRiderHandler(deps.Ledger, deps.Trips, deps.Cards),
		trips:    handlers.NewTripHandler(deps.Trips, deps.Cards),
		fares:    handlers.NewFareHandler(deps.Fares, deps.Stations),
		verifier: deps.Verifier,
		log:      logging.OrDiscard(deps.Log),
	}
}
