package fastcount

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/internal/models"
)

// resultForQuery finds the result whose debug form matches.
func resultForQuery(t *testing.T, results map[string]Result, query string) Result {
	t.Helper()
	for _, result := range results {
		if result.Query == query {
			return result
		}
	}
	t.Fatalf("no result for query %q", query)
	return Result{}
}

func newTestPrecacher(t *testing.T, cfg Config) (*Precacher, *EntryStore, *cache.MemoryStore, *TableSource) {
	t.Helper()
	db := openTestDB(t)
	seedUsers(t, db, 3, 2)
	store := cache.NewMemoryStore()
	entries := newTestEntryStore(t, db)
	resolver := NewResolver("users", "objects", cfg, store, entries, nopLogger())
	source := NewTableSource(db, "users", []QuerySpec{
		{Name: "active", Where: "active = ?", Args: []interface{}{1}},
		{Name: "inactive", Where: "active = ?", Args: []interface{}{0}},
	})
	return NewPrecacher("users", "objects", resolver, db, nopLogger()), entries, store, source
}

func TestPrecacheCachesEveryQueryRegardlessOfSize(t *testing.T) {
	cfg := testConfig()
	cfg.CacheCountsLargerThan = 1_000_000 // far above any seeded count
	p, entries, _, source := newTestPrecacher(t, cfg)

	results := p.Run(context.Background(), models.PrecacheSourceManual, source)
	require.Len(t, results, 3) // all-rows plus two designated queries
	for name, result := range results {
		require.True(t, result.OK(), "query %s failed: %s", name, result.Error)
	}

	cached, err := entries.List(context.Background(), "users", "objects")
	require.NoError(t, err)
	require.Len(t, cached, 3)
	for _, entry := range cached {
		require.True(t, entry.IsPrecached)
		require.True(t, entry.ExpiresAt.After(time.Now()))
	}
}

func TestPrecacheCountsMatchLiveData(t *testing.T) {
	p, _, store, source := newTestPrecacher(t, testConfig())

	results := p.Run(context.Background(), models.PrecacheSourceManual, source)

	byQuery := map[string]int64{}
	for key, result := range results {
		require.True(t, result.OK())
		require.Regexp(t, "^[0-9a-f]{32}$", key)
		byQuery[result.Query] = result.Count
	}
	require.EqualValues(t, 5, byQuery["table=users all"])
	require.EqualValues(t, 3, byQuery["table=users where=active = ? args=[1]"])
	require.EqualValues(t, 2, byQuery["table=users where=active = ? args=[0]"])

	// Result keys are the same identity the cache tiers store under, so the
	// precached counts are immediately readable from the ephemeral tier.
	key := p.resolver.fingerprint.Fingerprint(context.Background(), source.All())
	require.Contains(t, results, key)
	value, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "5", string(value))
}

func TestPrecacheKeysResultsByFingerprint(t *testing.T) {
	cfg := testConfig()
	db := openTestDB(t)
	seedUsers(t, db, 3, 2)
	store := cache.NewMemoryStore()
	entries := newTestEntryStore(t, db)
	resolver := NewResolver("users", "objects", cfg, store, entries, nopLogger())
	p := NewPrecacher("users", "objects", resolver, db, nopLogger())

	// Two designated names with the same predicate compile to the same
	// statement, hence the same fingerprint and a single cache identity.
	source := NewTableSource(db, "users", []QuerySpec{
		{Name: "active", Where: "active = ?", Args: []interface{}{1}},
		{Name: "active_again", Where: "active = ?", Args: []interface{}{1}},
	})

	results := p.Run(context.Background(), models.PrecacheSourceManual, source)
	require.Len(t, results, 2) // all-rows plus the shared predicate

	shared := p.resolver.fingerprint.Fingerprint(context.Background(),
		NewTableQuery(db, "users", "active = ?", 1))
	require.Contains(t, results, shared)
	require.EqualValues(t, 3, results[shared].Count)

	cached, err := entries.List(context.Background(), "users", "objects")
	require.NoError(t, err)
	require.Len(t, cached, 2)
}

func TestPrecacheOneFailureDoesNotAbortOthers(t *testing.T) {
	p, entries, _, _ := newTestPrecacher(t, testConfig())

	source := &stubSource{
		all: &stubQuery{name: "all", sqlText: "SELECT count(*) FROM users", count: 5},
		extras: []Query{
			&stubQuery{name: "good", sqlText: "SELECT count(*) FROM users WHERE active = 1", count: 3},
			&stubQuery{name: "bad", sqlText: "SELECT count(*) FROM users WHERE active = 0", execErr: fmt.Errorf("relation vanished")},
		},
	}

	results := p.Run(context.Background(), models.PrecacheSourceTrigger, source)
	require.Len(t, results, 3)
	require.True(t, resultForQuery(t, results, "all").OK())
	require.True(t, resultForQuery(t, results, "good").OK())
	require.False(t, resultForQuery(t, results, "bad").OK())
	require.Contains(t, resultForQuery(t, results, "bad").Error, "relation vanished")

	cached, err := entries.List(context.Background(), "users", "objects")
	require.NoError(t, err)
	require.Len(t, cached, 2)
}

func TestPrecacheMalformedConfigFallsBackToAllRows(t *testing.T) {
	p, entries, _, _ := newTestPrecacher(t, testConfig())

	source := &stubSource{
		all: &stubQuery{name: "all", sqlText: "SELECT count(*) FROM users", count: 5},
		err: fmt.Errorf("designated query has no name"),
	}

	results := p.Run(context.Background(), models.PrecacheSourceSweep, source)
	require.Len(t, results, 1)
	require.True(t, resultForQuery(t, results, "all").OK())

	cached, err := entries.List(context.Background(), "users", "objects")
	require.NoError(t, err)
	require.Len(t, cached, 1)
}

func TestPrecacheRecordsRunBookkeeping(t *testing.T) {
	p, _, _, source := newTestPrecacher(t, testConfig())
	db := p.db

	p.Run(context.Background(), models.PrecacheSourceManual, source)

	var runs []models.PrecacheRun
	require.NoError(t, db.Find(&runs).Error)
	require.Len(t, runs, 1)

	run := runs[0]
	require.Equal(t, "users", run.EntityKey)
	require.Equal(t, "objects", run.ManagerName)
	require.Equal(t, models.PrecacheSourceManual, run.Source)
	require.Equal(t, 3, run.Succeeded)
	require.Equal(t, 0, run.Failed)

	var decoded map[string]Result
	require.NoError(t, json.Unmarshal(run.Results, &decoded))
	require.Len(t, decoded, 3)
}
