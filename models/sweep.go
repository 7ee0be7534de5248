package models

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
)

type SweepStats struct {
	OrphanedPositions int64 `json:"orphaned_positions"`
	StaleImports      int64 `json:"stale_imports"`
	StalePositions    int64 `json:"stale_positions"`
	EmptyImports      int64 `json:"empty_imports"`
}

func (s SweepStats) Total() int64 {
	return s.OrphanedPositions + s.StaleImports + s.StalePositions + s.EmptyImports
}

// SweepImports is the consistency pass run by the import sweeper. Every step
// only touches rows that are still enabled, so running it again is a no-op.
//
//   - positions of a disabled import are disabled;
//   - imports and positions of sheets removed (or left inactive) longer than
//     grace ago are disabled;
//   - imports older than grace without any enabled position are disabled.
func SweepImports(ctx context.Context, grace time.Duration) (SweepStats, error) {
	var stats SweepStats
	db := config.GetDB()
	now := timeNow()
	cutoff := now.Add(-grace)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staleSheets := tx.Model(&Sheet{}).Select("id").
			Where("active = ? AND COALESCE(removed_at, created_at) < ?", false, cutoff)
		staleImports := tx.Model(&Import{}).Select("id").Where("sheet_id IN (?)", staleSheets)

		res := tx.Model(&ImportPosition{}).
			Where("is_disabled = ? AND import_id IN (?)", false, staleImports).
			Updates(map[string]interface{}{"is_disabled": true, "last_change": now})
		if res.Error != nil {
			return res.Error
		}
		stats.StalePositions = res.RowsAffected

		res = tx.Model(&Import{}).
			Where("is_disabled = ? AND sheet_id IN (?)", false, staleSheets).
			Update("is_disabled", true)
		if res.Error != nil {
			return res.Error
		}
		stats.StaleImports = res.RowsAffected

		disabledImports := tx.Model(&Import{}).Select("id").Where("is_disabled = ?", true)
		res = tx.Model(&ImportPosition{}).
			Where("is_disabled = ? AND import_id IN (?)", false, disabledImports).
			Updates(map[string]interface{}{"is_disabled": true, "last_change": now})
		if res.Error != nil {
			return res.Error
		}
		stats.OrphanedPositions = res.RowsAffected

		enabledPositions := tx.Model(&ImportPosition{}).Select("1").
			Where("import_positions.import_id = imports.id AND import_positions.is_disabled = ?", false)
		res = tx.Model(&Import{}).
			Where("is_disabled = ? AND imported_at < ?", false, cutoff).
			Where("NOT EXISTS (?)", enabledPositions).
			Update("is_disabled", true)
		if res.Error != nil {
			return res.Error
		}
		stats.EmptyImports = res.RowsAffected
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "Sweep", "SweepImports", "sweep pass rolled back", nil, err)
		return SweepStats{}, err
	}
	if stats.Total() > 0 {
		config.GetLogger().WithFields(logrus.Fields{
			"orphaned_positions": stats.OrphanedPositions,
			"stale_imports":      stats.StaleImports,
			"stale_positions":    stats.StalePositions,
			"empty_imports":      stats.EmptyImports,
		}).Info("import sweep disabled rows")
	}
	return stats, nil
}
