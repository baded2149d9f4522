package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alazzawimahmoud/math-stream/internal/adapters/gemini"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/httpapi"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/memorybus"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/sqlite"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/ttlcache"
	"github.com/alazzawimahmoud/math-stream/internal/app"
	"github.com/alazzawimahmoud/math-stream/internal/buildinfo"
	"github.com/alazzawimahmoud/math-stream/internal/config"
)

func main() {
	def := config.Default()
	addr := flag.String("addr", def.Addr, "Adresse d'écoute (ex: 127.0.0.1:8080)")
	dbPath := flag.String("db", def.DBPath, "Chemin SQLite (ex: mathstream.db)")
	workers := flag.Int("workers", def.Workers, "Nombre de workers en processus")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", "mathstream-server").Logger()
	log.Logger = logger

	logger.Info().Interface("build", buildinfo.Current()).Str("db", *dbPath).Msg("starting")

	ctx := context.Background()
	db, err := sqlite.Open(ctx, *dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open db")
	}
	defer func() { _ = db.Close() }()

	bus := memorybus.New()
	defer bus.Close()

	store := sqlite.NewComputationsRepository(db.SQL)
	queue := sqlite.NewJobsRepository(db.SQL)
	results := ttlcache.NewResultCache(def.CacheTTL)
	snapshots := ttlcache.NewSnapshotCache(def.CacheTTL)

	ai := app.NewAICalculator(gemini.New(def.GeminiAPIKey, def.GeminiModel), def.AITimeout)
	calcs := app.NewCalculatorRegistry(ai)
	proc := app.NewProcessor(logger.With().Str("component", "processor").Logger(), store, results, bus, calcs, def.JobDelay)

	dispatcher := app.NewDispatcher(queue)
	computations := app.NewComputationService(store, dispatcher, snapshots)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := app.NewWorkerPool(shutdownCtx, logger, queue, proc, app.DefaultWorkerOptions())
	pool.SetCount(*workers)
	defer pool.Close()
	logger.Info().Int("workers", pool.Count()).Msg("workers started")

	srv := httpapi.NewServer(logger, computations, bus)
	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", *addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server crashed")
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	logger.Info().Msg("bye")
}
