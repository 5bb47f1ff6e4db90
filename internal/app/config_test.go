package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/cache"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.False(t, cfg.FastCount.Synchronous)
	require.Equal(t, 24*time.Hour, cfg.Retention.ExpiredGrace)
	require.Equal(t, 30, cfg.Retention.RunHistoryDays)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := `
server:
  port: 9200
  log_level: debug
fastcount:
  synchronous: true
  entities:
    - table: users
      managers:
        - name: objects
          precache_count_every: 5m
          cache_counts_larger_than: 1000
          expire_cached_counts_after: 30m
          queries:
            - name: active
              where: "active = ?"
              args: [1]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9200, cfg.Server.Port)
	require.True(t, cfg.FastCount.Synchronous)
	require.Len(t, cfg.FastCount.Entities, 1)

	entity := cfg.FastCount.Entities[0]
	require.Equal(t, "users", entity.EntityKey())
	require.Len(t, entity.Managers, 1)

	manager := entity.Managers[0]
	require.Equal(t, "objects", manager.ManagerName())
	require.Equal(t, 5*time.Minute, manager.PrecacheCountEvery)
	require.EqualValues(t, 1000, manager.CacheCountsLargerThan)
	require.Equal(t, 30*time.Minute, manager.ExpireCachedCountsAfter)
	require.Len(t, manager.Queries, 1)
	require.Equal(t, "active", manager.Queries[0].Name)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TALLY_SERVER_PORT", "9100")
	t.Setenv("TALLY_FASTCOUNT_SYNCHRONOUS", "true")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Server.Port)
	require.True(t, cfg.FastCount.Synchronous)
}

func TestManagerConfigEngineConversion(t *testing.T) {
	mc := ManagerConfig{
		Name:                    "recent",
		PrecacheCountEvery:      time.Minute,
		CacheCountsLargerThan:   10,
		ExpireCachedCountsAfter: time.Hour,
		LockTimeout:             2 * time.Minute,
	}

	engine := mc.EngineConfig(true)
	require.Equal(t, time.Minute, engine.PrecacheCountEvery)
	require.EqualValues(t, 10, engine.CacheCountsLargerThan)
	require.Equal(t, time.Hour, engine.ExpireCachedCountsAfter)
	require.Equal(t, 2*time.Minute, engine.LockTimeout)
	require.True(t, engine.Synchronous)
}

func TestEntityKeyDefaultsToTable(t *testing.T) {
	require.Equal(t, "users", EntityConfig{Table: "users"}.EntityKey())
	require.Equal(t, "people", EntityConfig{Key: "people", Table: "users"}.EntityKey())
}

func TestBuildRegistry(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := FastCountConfig{
		Entities: []EntityConfig{
			{
				Table: "users",
				Managers: []ManagerConfig{
					{Name: "objects"},
					{Name: "admins", Queries: []QueryConfig{{Name: "active", Where: "active = 1"}}},
				},
			},
			{Table: "orders"}, // no managers configured: gets a default one
		},
	}

	registry, err := cfg.BuildRegistry(db, cache.NewMemoryStore())
	require.NoError(t, err)
	require.Len(t, registry.Managers(), 3)

	m, err := registry.Lookup("users", "admins")
	require.NoError(t, err)
	require.Equal(t, "admins", m.Name())

	_, err = registry.Lookup("orders", "objects")
	require.NoError(t, err)
}

func TestBuildRegistryRejectsMissingTable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := FastCountConfig{Entities: []EntityConfig{{Key: "ghost"}}}
	_, err = cfg.BuildRegistry(db, cache.NewMemoryStore())
	require.Error(t, err)
}

func TestBuildRegistryRejectsDuplicateIdentity(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := FastCountConfig{
		Entities: []EntityConfig{
			{Table: "users", Managers: []ManagerConfig{{Name: "objects"}, {Name: "objects"}}},
		},
	}
	_, err = cfg.BuildRegistry(db, cache.NewMemoryStore())
	require.Error(t, err)
}

func TestConnectionConfig(t *testing.T) {
	d := DatabaseConfig{
		Driver: "postgres",
		Postgres: DBAuthConfig{
			Host: "db.internal", Port: 5433, Database: "tally", Username: "tally", Password: "secret",
		},
	}

	cfg := d.ConnectionConfig()
	require.Equal(t, "postgres", cfg.Driver)
	require.Equal(t, "db.internal", cfg.Host)
	require.Equal(t, 5433, cfg.Port)
	require.Equal(t, "tally", cfg.Name)

	sqliteCfg := DatabaseConfig{Driver: "sqlite", Path: "./x.sqlite"}.ConnectionConfig()
	require.Equal(t, "sqlite", sqliteCfg.Driver)
	require.Equal(t, "./x.sqlite", sqliteCfg.Path)
	require.Empty(t, sqliteCfg.Host)
}
