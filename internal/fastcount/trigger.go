package fastcount

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/pkg/metrics"
)

// Trigger decides when a count request should start a background precache
// pass. At most one pass per entity/manager pair runs at a time, enforced by
// an advisory lock in the ephemeral store.
type Trigger struct {
	entityKey   string
	managerName string
	cfg         Config
	store       cache.Store
	precacher   *Precacher
	log         *zap.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

// NewTrigger builds a trigger for one entity/manager pair.
func NewTrigger(entityKey, managerName string, cfg Config, store cache.Store, precacher *Precacher, log *zap.Logger) *Trigger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trigger{
		entityKey:   entityKey,
		managerName: managerName,
		cfg:         cfg.withDefaults(),
		store:       store,
		precacher:   precacher,
		log:         log,
		now:         time.Now,
	}
}

func (t *Trigger) lastRunKey() string {
	return "lastrun:" + t.entityKey + ":" + t.managerName
}

func (t *Trigger) lockKey() string {
	return "lock:" + t.entityKey + ":" + t.managerName
}

// MaybeTrigger starts a precache pass when the last attempt is older than the
// configured interval. The attempt marker is written once the lock is held,
// before the pass runs, so a failing pass is not retried on every request.
func (t *Trigger) MaybeTrigger(ctx context.Context, origin string, source Source) {
	if t.store == nil {
		return
	}
	ctx = ensureContext(ctx)

	if !t.due(ctx) {
		return
	}

	// A panic anywhere before dispatch must not reach the counting caller or
	// strand the lock until its TTL.
	locked := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if locked {
			if err := t.store.Delete(ctx, t.lockKey()); err != nil {
				t.log.Warn("precache lock release failed",
					zap.String("entity", t.entityKey),
					zap.String("manager", t.managerName),
					zap.Error(err))
			}
		}
		t.log.Error("precache trigger panicked",
			zap.String("entity", t.entityKey),
			zap.String("manager", t.managerName),
			zap.Any("panic", r))
	}()

	now := t.now()
	marker := []byte(strconv.FormatInt(now.Unix(), 10))
	acquired, err := t.store.Add(ctx, t.lockKey(), marker, t.cfg.LockTimeout)
	if err != nil {
		t.log.Warn("precache lock acquisition failed",
			zap.String("entity", t.entityKey),
			zap.String("manager", t.managerName),
			zap.Error(err))
		return
	}
	if !acquired {
		metrics.LockContention.Inc()
		t.log.Debug("precache lock held elsewhere",
			zap.String("entity", t.entityKey),
			zap.String("manager", t.managerName))
		return
	}
	locked = true

	if err := t.store.Set(ctx, t.lastRunKey(), marker, 0); err != nil {
		// The lock is already held; run anyway rather than lose the slot.
		t.log.Warn("precache attempt marker write failed",
			zap.String("entity", t.entityKey),
			zap.String("manager", t.managerName),
			zap.Error(err))
	}

	if t.cfg.Synchronous {
		t.runLocked(ctx, origin, source)
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		// The request context ends with the request; the pass gets its
		// own deadline matching the lock lifetime.
		runCtx, cancel := context.WithTimeout(context.Background(), t.cfg.LockTimeout)
		defer cancel()
		t.runLocked(runCtx, origin, source)
	}()
}

// runLocked executes a pass while holding the advisory lock, releasing it on
// the way out even when the pass panics.
func (t *Trigger) runLocked(ctx context.Context, origin string, source Source) {
	defer func() {
		if err := t.store.Delete(ctx, t.lockKey()); err != nil {
			t.log.Warn("precache lock release failed",
				zap.String("entity", t.entityKey),
				zap.String("manager", t.managerName),
				zap.Error(err))
		}
		if r := recover(); r != nil {
			metrics.PrecacheRuns.WithLabelValues("panic").Inc()
			t.log.Error("precache pass panicked",
				zap.String("entity", t.entityKey),
				zap.String("manager", t.managerName),
				zap.Any("panic", r))
		}
	}()

	t.precacher.Run(ctx, origin, source)
}

// due reports whether enough time has passed since the last recorded attempt.
// A missing or malformed marker counts as due.
func (t *Trigger) due(ctx context.Context) bool {
	value, ok, err := t.store.Get(ctx, t.lastRunKey())
	if err != nil {
		t.log.Warn("precache attempt marker lookup failed",
			zap.String("entity", t.entityKey),
			zap.String("manager", t.managerName),
			zap.Error(err))
		return false
	}
	if !ok {
		return true
	}
	lastUnix, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return true
	}
	return t.now().Sub(time.Unix(lastUnix, 0)) >= t.cfg.PrecacheCountEvery
}

// Wait blocks until background passes started by this trigger finish.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
