package fastcount

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(&models.FastCount{}, &models.KVEntry{}, &models.PrecacheRun{}))
	require.NoError(t, db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, active INTEGER NOT NULL)").Error)

	return db
}

func seedUsers(t *testing.T, db *gorm.DB, active, inactive int) {
	t.Helper()
	for i := 0; i < active; i++ {
		require.NoError(t, db.Exec("INSERT INTO users (active) VALUES (1)").Error)
	}
	for i := 0; i < inactive; i++ {
		require.NoError(t, db.Exec("INSERT INTO users (active) VALUES (0)").Error)
	}
}

func newTestEntryStore(t *testing.T, db *gorm.DB) *EntryStore {
	t.Helper()
	entries, err := NewEntryStore(db)
	require.NoError(t, err)
	return entries
}

func countPrecacheRuns(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.PrecacheRun{}).Count(&n).Error)
	return n
}

// stubQuery lets tests inject compilation and execution failures.
type stubQuery struct {
	name    string
	sqlText string
	args    []interface{}
	sqlErr  error
	count   int64
	execErr error
}

func (q *stubQuery) SQL(context.Context) (string, []interface{}, error) {
	if q.sqlErr != nil {
		return "", nil, q.sqlErr
	}
	return q.sqlText, q.args, nil
}

func (q *stubQuery) Debug() string { return q.name }

func (q *stubQuery) Execute(context.Context) (int64, error) {
	if q.execErr != nil {
		return 0, q.execErr
	}
	return q.count, nil
}

// stubSource returns a fixed query list.
type stubSource struct {
	all    Query
	extras []Query
	err    error
}

func (s *stubSource) All() Query { return s.all }

func (s *stubSource) PrecacheQueries() ([]Query, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.extras, nil
}

// errStore fails every operation, for degradation tests.
type errStore struct{}

func (errStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("store unavailable")
}

func (errStore) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("store unavailable")
}

func (errStore) Add(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, fmt.Errorf("store unavailable")
}

func (errStore) Delete(context.Context, ...string) error {
	return fmt.Errorf("store unavailable")
}

var _ cache.Store = errStore{}

func testConfig() Config {
	return Config{
		PrecacheCountEvery:      time.Minute,
		CacheCountsLargerThan:   5,
		ExpireCachedCountsAfter: time.Minute,
		LockTimeout:             time.Minute,
		Synchronous:             true,
	}
}

func nopLogger() *zap.Logger { return zap.NewNop() }
