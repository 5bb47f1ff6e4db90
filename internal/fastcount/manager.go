package fastcount

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/internal/models"
	appErrors "github.com/tallycache/tally/pkg/errors"
)

// Manager binds a query source to the caching and precache machinery for one
// entity. Every Count call is a trigger opportunity: the manager checks the
// precache schedule before resolving the count.
type Manager struct {
	entityKey string
	name      string
	source    Source
	resolver  *Resolver
	precacher *Precacher
	trigger   *Trigger
}

// NewManager wires the full stack for one entity/manager pair.
func NewManager(entityKey, name string, source Source, cfg Config, store cache.Store, entries *EntryStore, db *gorm.DB, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("entity", entityKey), zap.String("manager", name))
	resolver := NewResolver(entityKey, name, cfg, store, entries, log)
	precacher := NewPrecacher(entityKey, name, resolver, db, log)
	trigger := NewTrigger(entityKey, name, cfg, store, precacher, log)
	return &Manager{
		entityKey: entityKey,
		name:      name,
		source:    source,
		resolver:  resolver,
		precacher: precacher,
		trigger:   trigger,
	}
}

// EntityKey returns the entity this manager counts.
func (m *Manager) EntityKey() string { return m.entityKey }

// Name returns the manager's name within its entity.
func (m *Manager) Name() string { return m.name }

// Source returns the manager's query source.
func (m *Manager) Source() Source { return m.source }

// Count resolves the count for an arbitrary query, first giving the precache
// schedule a chance to fire.
func (m *Manager) Count(ctx context.Context, q Query) (int64, error) {
	m.trigger.MaybeTrigger(ctx, models.PrecacheSourceTrigger, m.source)
	count, err := m.resolver.Resolve(ctx, q)
	if err != nil {
		return 0, appErrors.ErrCountFailed.WithInternal(err)
	}
	return count, nil
}

// CountAll counts the source's unfiltered query.
func (m *Manager) CountAll(ctx context.Context) (int64, error) {
	return m.Count(ctx, m.source.All())
}

// CountNamed counts one of the source's named precache queries.
func (m *Manager) CountNamed(ctx context.Context, name string) (int64, error) {
	named, ok := m.source.(NamedSource)
	if !ok {
		return 0, appErrors.ErrUnknownQuery
	}
	q, ok := named.Named(name)
	if !ok {
		return 0, appErrors.ErrUnknownQuery
	}
	return m.Count(ctx, q)
}

// Precache runs one pass immediately, bypassing the schedule and lock. Used
// by the CLI and the ops API.
func (m *Manager) Precache(ctx context.Context) map[string]Result {
	return m.precacher.Run(ctx, models.PrecacheSourceManual, m.source)
}

// Sweep runs a scheduled pass through the normal trigger path, so the lock
// and last-run bookkeeping apply.
func (m *Manager) Sweep(ctx context.Context) {
	m.trigger.MaybeTrigger(ctx, models.PrecacheSourceSweep, m.source)
}

// Wait blocks until background precache passes finish. Test support.
func (m *Manager) Wait() {
	m.trigger.Wait()
}
