// README: Entry point; loads config, wires services, starts the HTTP server and the heartbeat flusher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"maat/internal/config"
	"maat/internal/events"
	httptransport "maat/internal/http"
	"maat/internal/infra"
	"maat/internal/logging"
	"maat/internal/modules/account"
	"maat/internal/modules/ledger"
	"maat/internal/modules/pricing"
	"maat/internal/modules/scanner"
	"maat/internal/modules/station"
	"maat/internal/modules/trip"
	"maat/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.Log.Level)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	if cfg.DB.Migrate {
		if err := infra.Migrate(cfg.DB.DSN); err != nil {
			return err
		}
		log.Info("migrations applied")
	}
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	// An empty redis address runs heartbeats and card locks without Redis.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(brokers)
		defer kp.Close()
		publisher = kp
	}

	rules, err := pricing.RulesFromConfig(cfg.Pricing)
	if err != nil {
		return err
	}

	stationSvc := station.NewService(station.NewStore(db))
	accountSvc := account.NewService(account.NewStore(db))
	pricingSvc := pricing.NewService(pricing.NewStore(db), stationSvc, rules, types.ID(cfg.Pricing.ProfileID))
	ledgerSvc := ledger.NewService(db, ledger.NewStore(db), cfg.Ledger.MaxTopUp, publisher, log)
	tripSvc := trip.NewService(trip.Deps{
		DB:        db,
		Store:     trip.NewStore(db),
		Stations:  stationSvc,
		Riders:    accountSvc.Store(),
		Pricer:    pricingSvc,
		Ledger:    ledgerSvc,
		Publisher: publisher,
		Log:       log,
	})

	scannerStore := scanner.NewStore(db)
	heartbeats := scanner.NewHeartbeats(rdb, scannerStore, log)
	scannerSvc := scanner.NewService(scanner.Deps{
		Store:      scannerStore,
		Heartbeats: heartbeats,
		Locks:      scanner.NewCardLocks(rdb, cfg.Scanner.CardLockTTL),
		Cards:      accountSvc,
		Trips:      tripSvc,
		Stations:   stationSvc,
		Log:        log,
	})

	gin.SetMode(gin.ReleaseMode)
	handler := httptransport.NewServer(httptransport.ServerDeps{
		Scanners: scannerSvc,
		Ledger:   ledgerSvc,
		Trips:    tripSvc,
		Cards:    accountSvc,
		Fares:    pricingSvc,
		Stations: stationSvc,
		Verifier: verifier,
		Log:      log,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		scanner.RunHeartbeatFlusher(ctx, heartbeats, cfg.Scanner.HeartbeatFlushInterval)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-flusherDone
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	stop()
	<-flusherDone
	return err
}
