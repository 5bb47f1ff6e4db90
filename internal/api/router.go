package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/app"
	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/internal/fastcount"
	"github.com/tallycache/tally/internal/handlers"
	"github.com/tallycache/tally/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and registers the counts
// and ops routes.
func NewRouter(db *gorm.DB, store cache.Store, registry *fastcount.Registry, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if registry == nil {
		return nil, fmt.Errorf("manager registry must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	entries, err := fastcount.NewEntryStore(db)
	if err != nil {
		return nil, err
	}
	countsHandler, err := handlers.NewCountsHandler(registry, entries)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db, store))
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/counts/:entity/:manager", countsHandler.Count)
		api.GET("/entries/:entity/:manager", countsHandler.Entries)
		api.POST("/precache", countsHandler.Precache)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
