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
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/lysyi3m/news-comb/app/api"
	"github.com/lysyi3m/news-comb/app/cfg"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/enrich"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/metrics"
	"github.com/lysyi3m/news-comb/app/notify"
	"github.com/lysyi3m/news-comb/app/pipeline"
	"github.com/lysyi3m/news-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogging(appCfg.Debug)

	if err := appCfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch appCfg.Command {
	case cfg.CommandMigrate:
		err = migrateCommand(appCfg)
	case cfg.CommandModels:
		err = modelsCommand(ctx, appCfg)
	case cfg.CommandServe:
		err = serveCommand(ctx, appCfg)
	default:
		err = runCommand(ctx, appCfg)
	}

	if err != nil {
		slog.Error("Command failed", "command", appCfg.Command, "error", err)
		if errors.Is(err, cfg.ErrConfigurationMissing) {
			os.Exit(1)
		}
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// openStore connects to the configured backend. The returned close function
// is never nil.
func openStore(appCfg *cfg.Cfg, migrate bool) (database.ItemRepository, func(), error) {
	if appCfg.DBDriver == "supabase" {
		client, err := supabase.NewClient(appCfg.SupabaseURL, appCfg.SupabaseKey, nil)
		if err != nil {
			return nil, func() {}, fmt.Errorf("%w: supabase client: %v", cfg.ErrConfigurationMissing, err)
		}
		slog.Info("Using Supabase store", "url", appCfg.SupabaseURL)
		return database.NewSupabaseItemRepository(client, database.WithCallTimeout(appCfg.StoreTimeout)), func() {}, nil
	}

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}

	if migrate {
		version, dirty, err := database.RunMigrations(db)
		if err != nil {
			closeDB()
			return nil, func() {}, err
		}
		slog.Debug("Database schema ready", "version", version, "dirty", dirty)
	}

	slog.Info("Using SQLite store", "path", appCfg.DBPath)
	return database.NewItemRepository(db), closeDB, nil
}

func migrateCommand(appCfg *cfg.Cfg) error {
	if appCfg.DBDriver == "supabase" {
		slog.Info("Supabase schema is managed by the project, nothing to migrate")
		return nil
	}

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}

	slog.Info("Migrations applied", "version", version, "dirty", dirty)
	return nil
}

func newEnrichmentService(appCfg *cfg.Cfg) (enrich.Service, error) {
	opts := []enrich.ServiceOption{enrich.WithTimeout(appCfg.AITimeout)}
	if appCfg.AIBaseURL != "" {
		opts = append(opts, enrich.WithBaseURL(appCfg.AIBaseURL))
	}
	return enrich.NewService(appCfg.AIProvider, appCfg.AIAPIKey, opts...)
}

func modelsCommand(ctx context.Context, appCfg *cfg.Cfg) error {
	service, err := newEnrichmentService(appCfg)
	if err != nil {
		return err
	}

	advertised, listErr := service.ListCapabilities(ctx)
	if listErr != nil {
		slog.Warn("Capability listing failed", "error", listErr)
	}
	for _, name := range advertised {
		fmt.Println(name)
	}

	capability, degraded, err := enrich.Choose(appCfg.AIModels, advertised, listErr, appCfg.AIFallbackModel)
	if err != nil {
		return err
	}

	slog.Info("Resolved capability", "capability", capability, "fallback", degraded, "preferred", appCfg.AIModels)
	return nil
}

func runCommand(ctx context.Context, appCfg *cfg.Cfg) error {
	slog.Info("Starting News Comb run", "version", appCfg.Version)

	store, closeStore, err := openStore(appCfg, true)
	if err != nil {
		return err
	}
	defer closeStore()

	slog.Info("Loading feed configurations", "dir", appCfg.FeedsDir)
	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}
	slog.Info("Feed configurations loaded", "count", configCache.GetConfigCount())

	service, err := newEnrichmentService(appCfg)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	fetcher := feed.NewFetcher(httpClient, feed.NewParser(), appCfg.UserAgent)

	collector := metrics.NewCollector(metrics.Namespace)

	coordinator := pipeline.NewCoordinator(pipeline.Dependencies{
		Store:    store,
		Sources:  configCache,
		Fetcher:  fetcher,
		Runner:   tasks.NewPool(appCfg.WorkerCount, tasks.DefaultTaskTimeout),
		Resolver: enrich.NewResolver(service, appCfg.AIModels, appCfg.AIFallbackModel),
		Analyzer: enrich.NewAnalyzer(service, appCfg.AIMinDelay,
			enrich.WithMaxInputChars(appCfg.AIMaxInputChars),
			enrich.WithCallTimeout(appCfg.AITimeout)),
		Notifier: notify.New(appCfg.TelegramBotToken, appCfg.TelegramChatID),
		Metrics:  collector,
	}, pipeline.Settings{
		RetentionDays:     appCfg.RetentionDays,
		RetryPendingLimit: appCfg.RetryPendingLimit,
	})

	summary, runErr := coordinator.Run(ctx)
	fmt.Println(summary.String())

	if appCfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := collector.Push(pushCtx, appCfg.PushgatewayURL, metrics.PushJob); err != nil {
			slog.Warn("Metrics push failed", "error", err)
		}
	}

	// An aborted or interrupted run is reported above but is not a process failure.
	if runErr != nil {
		slog.Warn("Run ended early", "outcome", summary.Outcome(), "error", runErr)
	}
	return nil
}

func serveCommand(ctx context.Context, appCfg *cfg.Cfg) error {
	slog.Info("Starting News Comb server", "version", appCfg.Version)

	store, closeStore, err := openStore(appCfg, true)
	if err != nil {
		return err
	}
	defer closeStore()

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		slog.Warn("Failed to load feed configurations", "error", err)
	}

	collector := metrics.NewCollector(metrics.Namespace)
	server := api.NewServer(api.NewHandler(configCache, store), appCfg.APIAccessKey, collector)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port,
			"feed", fmt.Sprintf("http://localhost:%s/feed.xml", appCfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	slog.Info("News Comb server shutdown complete")
	return nil
}
