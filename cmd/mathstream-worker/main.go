package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alazzawimahmoud/math-stream/internal/adapters/gemini"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/memorybus"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/sqlite"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/ttlcache"
	"github.com/alazzawimahmoud/math-stream/internal/app"
	"github.com/alazzawimahmoud/math-stream/internal/buildinfo"
	"github.com/alazzawimahmoud/math-stream/internal/config"
)

// Processus worker autonome: même base et même file que le serveur,
// sans surface HTTP. Les abonnés SSE vivent côté serveur, le bus local
// n'a donc pas d'abonné ici; les transitions restent visibles via le
// store.
func main() {
	def := config.Default()
	dbPath := flag.String("db", def.DBPath, "Chemin SQLite (ex: mathstream.db)")
	workers := flag.Int("workers", def.Workers, "Nombre de workers")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", "mathstream-worker").Logger()
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

	ai := app.NewAICalculator(gemini.New(def.GeminiAPIKey, def.GeminiModel), def.AITimeout)
	calcs := app.NewCalculatorRegistry(ai)
	proc := app.NewProcessor(logger.With().Str("component", "processor").Logger(), store, results, bus, calcs, def.JobDelay)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := app.NewWorkerPool(shutdownCtx, logger, queue, proc, app.DefaultWorkerOptions())
	pool.SetCount(*workers)
	defer pool.Close()
	logger.Info().Int("workers", pool.Count()).Msg("workers started")

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")
}
