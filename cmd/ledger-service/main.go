package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labstock/labstock-backend/db"
	"github.com/labstock/labstock-backend/internal/ledger/events"
	"github.com/labstock/labstock-backend/internal/ledger/handler"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/internal/ledger/service"
	"github.com/labstock/labstock-backend/pkg/config"
	"github.com/labstock/labstock-backend/pkg/database"
	"github.com/labstock/labstock-backend/pkg/httputil"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/messaging"
	"github.com/labstock/labstock-backend/pkg/metrics"
)

const serviceName = "ledger-service"

func main() {
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("environment", cfg.Server.Environment).Msg("starting ledger service")

	dbConn, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbConn.Close()

	if err := runMigrations(dbConn, log); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	publisher, err := events.NewPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	stockRepo := repository.NewStockRepository(dbConn)
	equipmentRepo := repository.NewEquipmentRepository(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	requestRepo := repository.NewRequestRepository(dbConn)

	allocationSvc := service.NewAllocationService(
		dbConn, stockRepo, equipmentRepo, ledgerRepo, requestRepo,
		publisher, m, log, cfg.Ledger.CentralStoreCode, cfg.Ledger.AdminGraceDays,
	)
	returnSvc := service.NewReturnService(
		dbConn, stockRepo, equipmentRepo, ledgerRepo, requestRepo,
		publisher, m, log, cfg.Ledger.CentralStoreCode, cfg.Ledger.AdminGraceDays,
	)
	statusSvc := service.NewStatusService(requestRepo, publisher, m, log, cfg.Ledger.AdminGraceDays)
	stockSvc := service.NewStockService(
		dbConn, stockRepo, equipmentRepo, ledgerRepo,
		publisher, m, log, cfg.Ledger.CentralStoreCode,
	)

	h := handler.New(allocationSvc, returnSvc, statusSvc, stockSvc, requestRepo, log)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.ActorMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"service":  serviceName,
			"database": dbConn.Health(req.Context()),
			"rabbitmq": rmq.Health(),
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("stopped")
}

func runMigrations(dbConn *database.DB, log *logger.Logger) error {
	goose.SetBaseFS(db.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(dbConn.DB.DB, "migrations"); err != nil {
		return err
	}
	log.Info().Msg("database migrations applied")
	return nil
}
