package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
)

// NewCatalogCodeSync keeps the normalized product code index in step with
// the catalog. The first pass runs at start.
func NewCatalogCodeSync(logger *logrus.Logger, interval time.Duration) *PeriodicJob {
	job := NewPeriodicJob("catalog-code-sync", logger, interval, func(ctx context.Context) error {
		_, err := models.SyncCatalogCodes(ctx)
		return err
	})
	job.RunAtStart = true
	return job
}
