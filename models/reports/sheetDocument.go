package reports

import (
	"context"
	"fmt"
	"path"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// SheetDocuments renders the printable count document of a sheet and keeps
// it in the blob store. It implements models.DocumentGenerator; the returned
// path is the blob key.
type SheetDocuments struct {
	Store utils.BlobStore
}

func NewSheetDocuments(store utils.BlobStore) *SheetDocuments {
	return &SheetDocuments{Store: store}
}

func sheetDocumentKey(sheet *models.Sheet) string {
	return path.Join("documents", fmt.Sprint(sheet.CountId), fmt.Sprintf("%d_%s.xlsx", sheet.ID, sheet.Name))
}

func (g *SheetDocuments) Generate(ctx context.Context, sheetId int) (string, error) {
	detail, err := models.SheetDetail(ctx, sheetId)
	if err != nil {
		return "", err
	}
	data, err := RenderSheetDocument(detail)
	if err != nil {
		return "", err
	}
	key := sheetDocumentKey(detail.Sheet)
	if _, err := g.Store.Put(ctx, key, data, xlsxContentType); err != nil {
		return "", err
	}
	return key, nil
}

// RenderSheetDocument lays the enabled positions of a sheet out for counting
// on paper. The counted column stays empty.
func RenderSheetDocument(detail *models.SheetDetailView) ([]byte, error) {
	sheet := detail.Sheet
	w, err := newWorkbook("Count")
	if err != nil {
		return nil, err
	}
	defer w.close()

	author := detail.Users[sheet.CreatedBy]
	head := [][]interface{}{
		{"Sheet", sheet.Name},
		{"Count", sheet.CountId},
		{"Created", sheet.CreatedAt.Format("2006-01-02 15:04"), author},
	}
	if sheet.Comment != "" {
		head = append(head, []interface{}{"Comment", sheet.Comment})
	}
	for _, values := range head {
		if err := w.line(values...); err != nil {
			return nil, err
		}
	}
	if err := w.line(); err != nil {
		return nil, err
	}
	if err := w.header("No", "Product", "Name", "Main code", "Other codes", "Expected", "Counted"); err != nil {
		return nil, err
	}
	if err := w.widths(6, 10, 40, 16, 24, 12, 12); err != nil {
		return nil, err
	}

	no := 0
	for _, p := range detail.Positions {
		if p.IsDisabled {
			continue
		}
		no++
		expected, _ := utils.RoundQuantity(p.ExpectedQuantity).Float64()
		if err := w.line(no, p.ProductId, p.ProductName, p.MainCode, p.ExtraCodes, expected, nil); err != nil {
			return nil, err
		}
	}
	return w.bytes()
}
