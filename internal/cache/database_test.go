package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/models"
)

func openCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.KVEntry{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestDatabaseStoreRoundTrip(t *testing.T) {
	store := NewDatabaseStore(openCacheTestDB(t))
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("1500"), time.Minute))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1500"), value)

	// Overwrite through the upsert path.
	require.NoError(t, store.Set(ctx, "k", []byte("1600"), time.Minute))
	value, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1600"), value)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiredEntriesAreMisses(t *testing.T) {
	db := openCacheTestDB(t)
	store := NewDatabaseStore(db)
	ctx := context.Background()

	entry := models.KVEntry{
		Key:       "stale",
		Value:     []byte("9"),
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(&entry).Error)

	_, ok, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	require.False(t, ok)

	// Expired rows are removed on read.
	var count int64
	require.NoError(t, db.Model(&models.KVEntry{}).Where("key = ?", "stale").Count(&count).Error)
	require.Zero(t, count)
}

func TestDatabaseStoreZeroTTLNeverExpires(t *testing.T) {
	store := NewDatabaseStore(openCacheTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "lastrun", []byte("12345"), 0))

	value, ok, err := store.Get(ctx, "lastrun")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("12345"), value)
}

func TestDatabaseStoreAddIsExclusive(t *testing.T) {
	store := NewDatabaseStore(openCacheTestDB(t))
	ctx := context.Background()

	ok, err := store.Add(ctx, "lock", []byte("running"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Add(ctx, "lock", []byte("running"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Delete(ctx, "lock"))

	ok, err = store.Add(ctx, "lock", []byte("running"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDatabaseStoreAddReclaimsExpired(t *testing.T) {
	db := openCacheTestDB(t)
	store := NewDatabaseStore(db)
	ctx := context.Background()

	entry := models.KVEntry{
		Key:       "lock",
		Value:     []byte("running"),
		ExpiresAt: time.Now().Add(-time.Second),
	}
	require.NoError(t, db.Create(&entry).Error)

	ok, err := store.Add(ctx, "lock", []byte("running"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDatabaseStoreNilGuard(t *testing.T) {
	var store *DatabaseStore

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)

	_, err = store.Add(context.Background(), "k", nil, 0)
	require.Error(t, err)
}
