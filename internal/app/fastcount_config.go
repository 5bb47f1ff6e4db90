package app

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/internal/fastcount"
	"github.com/tallycache/tally/pkg/logger"
)

// FastCountConfig declares the counted entities and their managers.
type FastCountConfig struct {
	// Synchronous runs triggered precache passes inline. Diagnostic use only;
	// normally they run in a background goroutine.
	Synchronous bool           `mapstructure:"synchronous"`
	Entities    []EntityConfig `mapstructure:"entities"`
}

// EntityConfig describes one counted entity backed by a database table.
type EntityConfig struct {
	// Key identifies the entity in cache identities and the API. Defaults to
	// the table name.
	Key      string          `mapstructure:"key"`
	Table    string          `mapstructure:"table"`
	Managers []ManagerConfig `mapstructure:"managers"`
}

// EntityKey returns the effective entity key.
func (e EntityConfig) EntityKey() string {
	if key := strings.TrimSpace(e.Key); key != "" {
		return key
	}
	return strings.TrimSpace(e.Table)
}

// ManagerConfig tunes one manager of an entity.
type ManagerConfig struct {
	Name                    string        `mapstructure:"name"`
	PrecacheCountEvery      time.Duration `mapstructure:"precache_count_every"`
	CacheCountsLargerThan   int64         `mapstructure:"cache_counts_larger_than"`
	ExpireCachedCountsAfter time.Duration `mapstructure:"expire_cached_counts_after"`
	LockTimeout             time.Duration `mapstructure:"lock_timeout"`
	Queries                 []QueryConfig `mapstructure:"queries"`
}

// QueryConfig is one designated query of a manager.
type QueryConfig struct {
	Name  string        `mapstructure:"name"`
	Where string        `mapstructure:"where"`
	Args  []interface{} `mapstructure:"args"`
}

// ManagerName returns the configured name, defaulting to "objects".
func (m ManagerConfig) ManagerName() string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return "objects"
}

// EngineConfig converts the manager settings into the fastcount representation.
func (m ManagerConfig) EngineConfig(synchronous bool) fastcount.Config {
	return fastcount.Config{
		PrecacheCountEvery:      m.PrecacheCountEvery,
		CacheCountsLargerThan:   m.CacheCountsLargerThan,
		ExpireCachedCountsAfter: m.ExpireCachedCountsAfter,
		LockTimeout:             m.LockTimeout,
		Synchronous:             synchronous,
	}
}

func (m ManagerConfig) querySpecs() []fastcount.QuerySpec {
	specs := make([]fastcount.QuerySpec, 0, len(m.Queries))
	for _, q := range m.Queries {
		specs = append(specs, fastcount.QuerySpec{
			Name:  q.Name,
			Where: q.Where,
			Args:  q.Args,
		})
	}
	return specs
}

// BuildRegistry materialises the configured entities into a manager registry.
func (c FastCountConfig) BuildRegistry(db *gorm.DB, store cache.Store) (*fastcount.Registry, error) {
	entries, err := fastcount.NewEntryStore(db)
	if err != nil {
		return nil, fmt.Errorf("fastcount config: %w", err)
	}

	log := logger.WithModule("fastcount")
	registry := fastcount.NewRegistry()
	for _, entity := range c.Entities {
		table := strings.TrimSpace(entity.Table)
		if table == "" {
			return nil, fmt.Errorf("fastcount config: entity %q has no table", entity.Key)
		}

		managers := entity.Managers
		if len(managers) == 0 {
			managers = []ManagerConfig{{}}
		}
		for _, mc := range managers {
			source := fastcount.NewTableSource(db, table, mc.querySpecs())
			manager := fastcount.NewManager(
				entity.EntityKey(),
				mc.ManagerName(),
				source,
				mc.EngineConfig(c.Synchronous),
				store,
				entries,
				db,
				log,
			)
			if err := registry.Register(manager); err != nil {
				return nil, fmt.Errorf("fastcount config: %w", err)
			}
		}
	}

	return registry, nil
}
