package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/api"
	"github.com/tallycache/tally/internal/app"
	"github.com/tallycache/tally/internal/app/maintenance"
	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/internal/database"
	"github.com/tallycache/tally/internal/fastcount"
	"github.com/tallycache/tally/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tally", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	var precacheNow bool
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	fs.BoolVar(&precacheNow, "precache", false, "Run one precache pass for every manager and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	store := initialiseStore(cfg, db, log)
	defer func() {
		if rc, ok := store.(*cache.RedisClient); ok && rc != nil {
			_ = rc.Close()
		}
	}()

	registry, err := cfg.FastCount.BuildRegistry(db, store)
	if err != nil {
		return fmt.Errorf("build manager registry: %w", err)
	}

	if precacheNow {
		return runPrecache(ctx, registry)
	}

	entries, err := fastcount.NewEntryStore(db)
	if err != nil {
		return err
	}

	cleaner := maintenance.NewCleaner(db, entries, registry,
		maintenance.WithExpiredGrace(cfg.Retention.ExpiredGrace),
		maintenance.WithRunHistoryDays(cfg.Retention.RunHistoryDays),
		maintenance.WithPurgeSchedule(cfg.Retention.PurgeSchedule),
		maintenance.WithSweepSchedule(cfg.Retention.SweepSchedule),
	)
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := cleaner.Stop()
		<-stopCtx.Done()
		registry.Wait()
	}()

	router, err := api.NewRouter(db, store, registry, cfg)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// runPrecache executes one pass for every manager and prints the per-query
// outcome, mirroring what the POST /api/precache endpoint returns.
func runPrecache(ctx context.Context, registry *fastcount.Registry) error {
	reports := registry.PrecacheAll(ctx)
	if len(reports) == 0 {
		fmt.Println("no managers configured")
		return nil
	}

	failed := 0
	for _, report := range reports {
		fmt.Printf("%s (%s):\n", report.EntityKey, report.ManagerName)

		fingerprints := make([]string, 0, len(report.Results))
		for fingerprint := range report.Results {
			fingerprints = append(fingerprints, fingerprint)
		}
		sort.Strings(fingerprints)

		for _, fingerprint := range fingerprints {
			result := report.Results[fingerprint]
			if result.OK() {
				fmt.Printf("  %s %s: %d\n", fingerprint, result.Query, result.Count)
			} else {
				fmt.Printf("  %s %s: error: %s\n", fingerprint, result.Query, result.Error)
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d precache queries failed", failed)
	}
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

// initialiseStore picks the ephemeral tier: Redis when configured and
// reachable, otherwise the shared database-backed store.
func initialiseStore(cfg *app.Config, db *gorm.DB, log *zap.Logger) cache.Store {
	if cfg.Cache.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if err != nil {
			log.Warn("redis unavailable; falling back to database-backed store", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			return client
		}
	}
	return cache.NewDatabaseStore(db)
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database close skipped", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
