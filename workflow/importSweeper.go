package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
)

// NewImportSweeper disables imports left behind by removed sheets and
// imports without enabled positions.
func NewImportSweeper(logger *logrus.Logger, interval, grace time.Duration) *PeriodicJob {
	return NewPeriodicJob("import-sweeper", logger, interval, func(ctx context.Context) error {
		_, err := models.SweepImports(ctx, grace)
		return err
	})
}
