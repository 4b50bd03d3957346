package analysis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shiftsight/core/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cache is the persistent row-analysis cache. Entries are write-once and
// keyed by (row hash, model version, prompt version); a version bump on
// either side simply misses and repopulates under the new key.
//
// The cache is an optimization, never a dependency: every lookup failure
// degrades to a miss so an unreachable cache costs money, not correctness.
type Cache struct {
	db        *gorm.DB
	retention time.Duration
	log       *zap.Logger
}

func NewCache(db *gorm.DB, retentionDays int, log *zap.Logger) *Cache {
	return &Cache{
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log,
	}
}

// LookupMany resolves a set of row hashes against the cache in one query and
// returns the hits keyed by hash. Entries older than the retention window are
// treated as absent.
func (c *Cache) LookupMany(ctx context.Context, hashes []string, modelVersion, promptVersion string) map[string]json.RawMessage {
	hits := make(map[string]json.RawMessage, len(hashes))
	if len(hashes) == 0 {
		return hits
	}

	var entries []models.AnalysisCacheModel
	err := c.db.WithContext(ctx).
		Where("row_hash IN ?", hashes).
		Where("model_version = ? AND prompt_version = ?", modelVersion, promptVersion).
		Where("created_at > ?", time.Now().Add(-c.retention)).
		Find(&entries).Error
	if err != nil {
		c.log.Warn("cache lookup failed, treating all rows as uncached",
			zap.Int("hashes", len(hashes)),
			zap.Error(err))
		return hits
	}

	for _, entry := range entries {
		hits[entry.RowHash] = json.RawMessage(entry.AnalysisResult)
	}
	return hits
}

// InsertMany stores fresh results. Duplicate hashes (a concurrent job cached
// the same row first) are skipped silently; write failures are logged and
// swallowed since the job already holds the results.
func (c *Cache) InsertMany(ctx context.Context, entries []models.AnalysisCacheModel) {
	if len(entries) == 0 {
		return
	}

	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entries).Error
	if err != nil {
		c.log.Warn("cache insert failed",
			zap.Int("entries", len(entries)),
			zap.Error(err))
	}
}

// EvictExpired deletes entries past the retention window. Runs on the
// scheduler; expired entries are already invisible to LookupMany, this just
// reclaims the rows.
func (c *Cache) EvictExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-c.retention)
	result := c.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AnalysisCacheModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		c.log.Info("evicted expired cache entries",
			zap.Int64("entries", result.RowsAffected))
	}
	return nil
}
