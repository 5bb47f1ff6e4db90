package fastcount

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tallycache/tally/internal/models"
)

// EntryStore provides the durable cache tier: expiry-filtered lookups and
// idempotent upserts over the (entity, manager, fingerprint) identity.
type EntryStore struct {
	db *gorm.DB
}

// NewEntryStore constructs an EntryStore using the provided database handle.
func NewEntryStore(db *gorm.DB) (*EntryStore, error) {
	if db == nil {
		return nil, errors.New("entry store: db is required")
	}
	return &EntryStore{db: db}, nil
}

// GetValid returns the unexpired entry for the identity tuple, or (nil, nil)
// when no live entry exists.
func (s *EntryStore) GetValid(ctx context.Context, entityKey, managerName, fingerprint string, now time.Time) (*models.FastCount, error) {
	ctx = ensureContext(ctx)

	var entry models.FastCount
	err := s.db.WithContext(ctx).
		Where("entity_key = ? AND manager_name = ? AND fingerprint = ? AND expires_at > ?",
			entityKey, managerName, fingerprint, now).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// Upsert creates or updates the entry for its identity tuple. Concurrent
// upserts for the same tuple race safely onto the same row.
func (s *EntryStore) Upsert(ctx context.Context, entry *models.FastCount) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "entity_key"},
				{Name: "manager_name"},
				{Name: "fingerprint"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"count", "last_updated", "expires_at", "is_precached", "updated_at",
			}),
		}).Create(entry).Error
}

// List returns all entries for one entity/manager pair, freshest first. Used
// by the ops API; expired rows are included so operators can see history.
func (s *EntryStore) List(ctx context.Context, entityKey, managerName string) ([]models.FastCount, error) {
	ctx = ensureContext(ctx)

	var entries []models.FastCount
	err := s.db.WithContext(ctx).
		Where("entity_key = ? AND manager_name = ?", entityKey, managerName).
		Order("last_updated DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteExpiredBefore removes rows whose expiry is older than the cutoff.
// Retention is a maintenance concern; the resolution path never deletes.
func (s *EntryStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.FastCount{})
	return result.RowsAffected, result.Error
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
