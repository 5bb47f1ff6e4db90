package fastcount

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/internal/models"
	"github.com/tallycache/tally/pkg/metrics"
)

// Resolver answers count requests through the two cache tiers before falling
// back to a live query. Cache failures on either tier degrade to the next
// tier instead of failing the request.
type Resolver struct {
	entityKey   string
	managerName string
	cfg         Config
	store       cache.Store
	entries     *EntryStore
	fingerprint Fingerprinter
	log         *zap.Logger
	now         func() time.Time
}

// NewResolver builds a resolver for one entity/manager pair.
func NewResolver(entityKey, managerName string, cfg Config, store cache.Store, entries *EntryStore, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		entityKey:   entityKey,
		managerName: managerName,
		cfg:         cfg.withDefaults(),
		store:       store,
		entries:     entries,
		fingerprint: NewFingerprinter(entityKey),
		log:         log,
		now:         time.Now,
	}
}

// Resolve returns the count for the query: ephemeral tier, then durable
// tier, then a live count. Live results at or above the configured threshold
// are written back to both tiers.
func (r *Resolver) Resolve(ctx context.Context, q Query) (int64, error) {
	ctx = ensureContext(ctx)
	key := r.fingerprint.Fingerprint(ctx, q)

	if count, ok := r.ephemeralGet(ctx, key); ok {
		metrics.CacheHits.WithLabelValues("ephemeral").Inc()
		return count, nil
	}
	metrics.CacheMisses.WithLabelValues("ephemeral").Inc()

	now := r.now()
	if entry, err := r.entries.GetValid(ctx, r.entityKey, r.managerName, key, now); err != nil {
		r.log.Warn("durable count lookup failed",
			zap.String("entity", r.entityKey),
			zap.String("manager", r.managerName),
			zap.Error(err))
	} else if entry != nil {
		metrics.CacheHits.WithLabelValues("durable").Inc()
		r.ephemeralSet(ctx, key, entry.Count, entry.ExpiresAt.Sub(now))
		return entry.Count, nil
	} else {
		metrics.CacheMisses.WithLabelValues("durable").Inc()
	}

	count, err := q.Execute(ctx)
	if err != nil {
		metrics.LiveCounts.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.LiveCounts.WithLabelValues("ok").Inc()

	if count >= r.cfg.CacheCountsLargerThan {
		r.cacheCount(ctx, key, count, false)
		metrics.RetroactiveWrites.Inc()
	}

	return count, nil
}

// cacheCount writes a count to both tiers. Failures are logged, never
// surfaced: a count that cannot be cached is still a correct count.
func (r *Resolver) cacheCount(ctx context.Context, key string, count int64, precached bool) {
	now := r.now()
	entry := &models.FastCount{
		EntityKey:   r.entityKey,
		ManagerName: r.managerName,
		Fingerprint: key,
		Count:       count,
		LastUpdated: now,
		ExpiresAt:   now.Add(r.cfg.ExpireCachedCountsAfter),
		IsPrecached: precached,
	}
	if err := r.entries.Upsert(ctx, entry); err != nil {
		r.log.Warn("durable count write failed",
			zap.String("entity", r.entityKey),
			zap.String("manager", r.managerName),
			zap.Error(err))
	}
	r.ephemeralSet(ctx, key, count, r.cfg.ExpireCachedCountsAfter)
}

func (r *Resolver) ephemeralGet(ctx context.Context, key string) (int64, bool) {
	if r.store == nil {
		return 0, false
	}
	value, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.log.Warn("ephemeral count lookup failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	count, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		r.log.Warn("ephemeral count entry malformed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return count, true
}

func (r *Resolver) ephemeralSet(ctx context.Context, key string, count int64, ttl time.Duration) {
	if r.store == nil || ttl <= 0 {
		return
	}
	if err := r.store.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), ttl); err != nil {
		r.log.Warn("ephemeral count write failed", zap.String("key", key), zap.Error(err))
	}
}
