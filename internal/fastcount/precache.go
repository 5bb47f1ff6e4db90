package fastcount

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/models"
	"github.com/tallycache/tally/pkg/metrics"
)

// Result records the outcome of precaching a single query. Query carries the
// query's debug form so reports stay readable next to their fingerprint keys.
type Result struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the query was counted and cached successfully.
func (r Result) OK() bool { return r.Error == "" }

// Precacher computes and caches every precache query of a source. One failed
// query never aborts the pass; each query succeeds or fails independently.
type Precacher struct {
	entityKey   string
	managerName string
	resolver    *Resolver
	db          *gorm.DB
	log         *zap.Logger
	now         func() time.Time
}

// NewPrecacher builds a precacher that caches through the given resolver and
// records pass bookkeeping in db. db may be nil to skip bookkeeping.
func NewPrecacher(entityKey, managerName string, resolver *Resolver, db *gorm.DB, log *zap.Logger) *Precacher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Precacher{
		entityKey:   entityKey,
		managerName: managerName,
		resolver:    resolver,
		db:          db,
		log:         log,
		now:         time.Now,
	}
}

// Run executes one precache pass for the source. Results are keyed by query
// fingerprint, the same identity the cache tiers use, so two query names with
// identical predicates share one entry.
func (p *Precacher) Run(ctx context.Context, origin string, source Source) map[string]Result {
	ctx = ensureContext(ctx)
	start := p.now()

	queries := []Query{source.All()}
	extras, err := source.PrecacheQueries()
	if err != nil {
		p.log.Warn("designated query configuration rejected; precaching all-rows query only",
			zap.String("entity", p.entityKey),
			zap.String("manager", p.managerName),
			zap.Error(err))
	} else {
		queries = append(queries, extras...)
	}

	results := make(map[string]Result, len(queries))
	succeeded, failed := 0, 0
	for _, q := range queries {
		key := p.resolver.fingerprint.Fingerprint(ctx, q)
		count, err := p.precacheOne(ctx, key, q)
		if err != nil {
			failed++
			results[key] = Result{Query: q.Debug(), Error: err.Error()}
			p.log.Warn("precache query failed",
				zap.String("entity", p.entityKey),
				zap.String("manager", p.managerName),
				zap.String("fingerprint", key),
				zap.String("query", q.Debug()),
				zap.Error(err))
			continue
		}
		succeeded++
		results[key] = Result{Query: q.Debug(), Count: count}
	}

	elapsed := p.now().Sub(start)
	metrics.PrecacheDuration.Observe(elapsed.Seconds())
	if failed == 0 {
		metrics.PrecacheRuns.WithLabelValues("ok").Inc()
	} else {
		metrics.PrecacheRuns.WithLabelValues("partial").Inc()
	}

	p.recordRun(ctx, origin, results, succeeded, failed, elapsed)
	p.log.Info("precache pass finished",
		zap.String("entity", p.entityKey),
		zap.String("manager", p.managerName),
		zap.String("source", origin),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Duration("elapsed", elapsed))

	return results
}

// precacheOne counts one query live and caches the result unconditionally;
// the size threshold applies only to on-demand retroactive caching.
func (p *Precacher) precacheOne(ctx context.Context, key string, q Query) (int64, error) {
	count, err := q.Execute(ctx)
	if err != nil {
		return 0, err
	}
	p.resolver.cacheCount(ctx, key, count, true)
	return count, nil
}

func (p *Precacher) recordRun(ctx context.Context, origin string, results map[string]Result, succeeded, failed int, elapsed time.Duration) {
	if p.db == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		p.log.Warn("precache results not serializable", zap.Error(err))
		payload = []byte("{}")
	}
	run := &models.PrecacheRun{
		EntityKey:   p.entityKey,
		ManagerName: p.managerName,
		Source:      origin,
		Results:     payload,
		Succeeded:   succeeded,
		Failed:      failed,
		DurationMS:  elapsed.Milliseconds(),
	}
	if err := p.db.WithContext(ctx).Create(run).Error; err != nil {
		p.log.Warn("precache run bookkeeping failed", zap.Error(err))
	}
}
