package reports

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// RenderExportWorkbook is the spreadsheet twin of the export csv.
func RenderExportWorkbook(rows []models.ExportRow) ([]byte, error) {
	w, err := newWorkbook("Export")
	if err != nil {
		return nil, err
	}
	defer w.close()

	if err := w.header("MainCode", "Counted", "Product"); err != nil {
		return nil, err
	}
	if err := w.widths(18, 12, 10); err != nil {
		return nil, err
	}
	for _, r := range rows {
		counted, _ := utils.RoundQuantity(r.Counted).Float64()
		if err := w.line(r.MainCode, counted, r.ProductId); err != nil {
			return nil, err
		}
	}
	return w.bytes()
}

// StoreExportWorkbook writes the workbook next to the csv of the same export.
// Exports without rows have no csv and get no workbook either.
func StoreExportWorkbook(ctx context.Context, store utils.BlobStore, result *models.ExportResult) (string, error) {
	if result.Key == "" {
		return "", nil
	}
	data, err := RenderExportWorkbook(result.Rows)
	if err != nil {
		return "", err
	}
	return store.Put(ctx, strings.TrimSuffix(result.Key, ".csv")+".xlsx", data, xlsxContentType)
}
