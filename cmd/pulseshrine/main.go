package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/cost"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/enricher"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/providers"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/api"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/budget"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/enrich"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/logging"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/orchestrator"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/pulses"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/tracking"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/users"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/websocket"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/worthiness"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "pulseshrine",
	Short:   "PulseShrine - focus session recorder with value-gated AI enrichment",
	Long:    `PulseShrine records focus sessions (pulses) and enriches the worthwhile ones with AI-generated titles, badges and insights, falling back to rule-based generation when budget or models say no.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PulseShrine %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup logs before config is available.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "pulseshrine",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "pulseshrine",
		FilePath:  cfg.LogFile,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Msg("Starting PulseShrine server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.NewSQLite(store.DefaultSQLiteConfig(cfg.DataDir))
	if err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("Failed to open store")
	}
	defer s.Close()

	repo, err := pulses.NewRepository(s, pulses.Tables{
		Started:  cfg.Tables.StartedPulses,
		Stopped:  cfg.Tables.StoppedPulses,
		Ingested: cfg.Tables.IngestedPulses,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pulse repository")
	}
	userSvc, err := users.NewService(s, cfg.Tables.Users)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user service")
	}
	budgetSvc, err := budget.NewService(s, cfg.Tables.AIUsage, userSvc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize budget service")
	}
	tracker, err := tracking.NewTracker(s, cfg.Tables.AIUsage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize usage tracker")
	}

	params := config.NewParams(cfg, nil)

	seed := cfg.RNGSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	calc := cost.NewCalculator()
	scorer := worthiness.NewScorer(budgetSvc)
	controller := budget.NewController(budgetSvc, scorer, calc, params, cfg.AI, seed)
	llm := enricher.New(providers.NewRouter(cfg.AI), calc, params, cfg.AI)
	rules := enrich.NewGenerator(seed)

	wsHub := websocket.NewHub(cfg.AllowedOrigins)
	go wsHub.Run(ctx)

	orch := orchestrator.New(repo, controller, budgetSvc, llm, rules,
		tracker, userSvc, wsHub, cfg.Orchestrator)

	handler := api.NewRouter(cfg, repo, userSvc, tracker, wsHub, Version)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: handler,
		// ReadHeaderTimeout instead of ReadTimeout so the deadline does not
		// survive the websocket upgrade and kill long-lived connections.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Watch the .env file; dynamic AI parameters are re-read on change.
	if err := config.Watch(ctx, cfg.EnvFilePath(), func() {
		log.Info().Msg(".env changed, invalidating cached parameters")
		params.Invalidate()
	}); err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable, .env changes need a restart or SIGHUP")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx)
	})

	g.Go(func() error {
		return serveMetrics(gctx, fmt.Sprintf("%s:%d", cfg.Host, cfg.MetricsPort))
	})

	g.Go(func() error {
		log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading runtime configuration")
			params.Invalidate()

		case <-sigChan:
			log.Info().Msg("Shutting down server...")
			goto shutdown

		case <-gctx.Done():
			log.Error().Msg("Component failed, shutting down")
			goto shutdown
		}
	}

shutdown:
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with error")
	}
	log.Info().Msg("Server stopped")
}
