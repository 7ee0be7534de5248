package models

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"path"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

type CatalogSnapshot struct {
	Path     string `json:"path"`
	Products int    `json:"products"`
}

// SnapshotCatalog dumps the catalog as gzip compressed JSON lines under
// sync/<YYYYMMDD>/. The dump is what the counts were compared against and is
// kept for audits after the POS stock has moved on.
func SnapshotCatalog(ctx context.Context, store utils.BlobStore) (*CatalogSnapshot, error) {
	db := config.GetDB()
	now := timeNow()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)

	total := 0
	var batch []*Product
	err := db.WithContext(ctx).Model(&Product{}).Order("product_id").
		FindInBatches(&batch, catalogSyncBatch, func(tx *gorm.DB, _ int) error {
			for _, p := range batch {
				if err := enc.Encode(p); err != nil {
					return err
				}
			}
			total += len(batch)
			return nil
		}).Error
	if err != nil {
		config.LogError(config.GetLogger(), "Catalog", "SnapshotCatalog", "reading catalog", nil, err)
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	key := path.Join("sync", now.Format("20060102"), "catalog_"+now.Format(exportTimestampLayout)+".jsonl.gz")
	stored, err := store.Put(ctx, key, buf.Bytes(), "application/gzip")
	if err != nil {
		config.LogError(config.GetLogger(), "Catalog", "SnapshotCatalog", "writing snapshot", key, err)
		return nil, err
	}
	config.GetLogger().WithField("products", total).WithField("path", stored).Info("catalog snapshot written")
	return &CatalogSnapshot{Path: stored, Products: total}, nil
}
