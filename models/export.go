package models

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

const exportTimestampLayout = "20060102_150405"

// ExportRow is one line of the hand-off file.
type ExportRow struct {
	ProductId int             `json:"product_id"`
	MainCode  string          `json:"main_code"`
	Counted   decimal.Decimal `json:"counted"`
}

type ExportSheetResult struct {
	SheetId   int    `json:"sheet_id"`
	SheetName string `json:"sheet_name"`
	ImportId  *int   `json:"import_id,omitempty"`
	Positions int    `json:"positions"`
	Error     string `json:"error,omitempty"`
}

type ExportResult struct {
	CountId    int                 `json:"count_id"`
	Key        string              `json:"key"`
	Path       string              `json:"path"`
	Rows       []ExportRow         `json:"rows"`
	Sheets     []ExportSheetResult `json:"sheets"`
	Unresolved []int               `json:"unresolved"`
}

type ExportList struct {
	BasePath string   `json:"base_path"`
	Files    []string `json:"files"`
}

// canExport holds for signed main count sheets that are still active.
func (s *Sheet) canExport() error {
	if s.IsRemoved() {
		return ErrSheetAlreadyRemoved
	}
	if s.SigningAt == nil {
		return ErrSheetNotSigned
	}
	return nil
}

func exportsPrefix(countId int) string {
	return fmt.Sprintf("exports/%d/", countId)
}

// exportLine is a discrepancy selected by the read phase.
type exportLine struct {
	position SheetPosition
	product  *Product
	counted  decimal.Decimal
}

// ExportCount hands the discrepancies of signed sheets over to the
// merchandise system. Which positions are exported is decided once up front;
// every touched sheet is then settled in its own transaction with an export
// import whose quantity equals its expected quantity, so the same difference
// is not exported twice. The file only contains rows whose sheet committed.
func ExportCount(ctx context.Context, store utils.BlobStore, countId int, actingUserId int) (*ExportResult, error) {
	ctx, span := tracer.Start(ctx, "export.count", trace.WithAttributes(attribute.Int("count.id", countId)))
	defer span.End()

	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	if _, err := getCount(ctx, db, countId); err != nil {
		return nil, err
	}
	logger := config.GetLogger().WithFields(logrus.Fields{"count_id": countId, "user_id": actingUserId})

	bySheet, sheets, unresolved, err := exportCandidates(ctx, db, countId)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.WithFields(logrus.Fields{"sheets": len(sheets), "unresolved": len(unresolved)}).Info("export candidates selected")

	result := &ExportResult{CountId: countId, Rows: []ExportRow{}, Sheets: []ExportSheetResult{}, Unresolved: unresolved}
	var committed []exportLine
	for _, sheet := range sheets {
		sr := ExportSheetResult{SheetId: sheet.ID, SheetName: sheet.Name}
		kept, importId, err := exportSheet(ctx, db, sheet.ID, bySheet[sheet.ID], actingUserId)
		if err != nil {
			sr.Error = err.Error()
			config.LogError(config.GetLogger(), "Export", "ExportCount", "sheet export rolled back", sheet.Name, err)
		} else {
			sr.ImportId = importId
			sr.Positions = len(kept)
			committed = append(committed, kept...)
		}
		result.Sheets = append(result.Sheets, sr)
	}

	result.Rows = groupExportRows(committed)
	if len(result.Rows) > 0 {
		key := path.Join(exportsPrefix(countId), "export_"+timeNow().Format(exportTimestampLayout)+".csv")
		stored, err := store.Put(ctx, key, RenderExportCSV(result.Rows), "text/csv")
		if err != nil {
			config.LogError(config.GetLogger(), "Export", "ExportCount", "writing export file", key, err)
			span.RecordError(err)
			return result, err
		}
		result.Key = key
		result.Path = stored
	}
	span.SetAttributes(attribute.Int("export.rows", len(result.Rows)), attribute.Int("export.sheets", len(result.Sheets)))
	logger.WithFields(logrus.Fields{"rows": len(result.Rows), "path": result.Path}).Info("export written")
	return result, nil
}

// exportSheet settles one sheet. The candidates come from the unlocked read
// phase, so each one is re-evaluated under the sheet lock: positions that were
// disabled or no longer differ from expected are dropped, and the counted
// quantity is taken from the live entries. No import is written when nothing
// is left.
func exportSheet(ctx context.Context, db *gorm.DB, sheetId int, lines []exportLine, actingUserId int) ([]exportLine, *int, error) {
	var kept []exportLine
	var draft *importDraft
	err := runSheetTransition(ctx, db, sheetId, (*Sheet).canExport, func(tx *gorm.DB, locked *Sheet) (*changeSet, error) {
		kept, draft = nil, nil
		ids := make([]int, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.position.ID)
		}
		var live []SheetPosition
		if err := tx.WithContext(ctx).
			Where("id IN ? AND sheet_id = ? AND is_disabled = ?", ids, locked.ID, false).
			Find(&live).Error; err != nil {
			return nil, err
		}
		enabled := make(map[int]SheetPosition, len(live))
		for _, sp := range live {
			enabled[sp.ID] = sp
		}
		entries, err := loadCountEntries(ctx, tx, ids)
		if err != nil {
			return nil, err
		}

		cs := newChangeSet(actingUserId)
		for _, l := range lines {
			sp, ok := enabled[l.position.ID]
			if !ok {
				continue
			}
			d := ComputeDelta(sp.ExpectedQuantity, entries[sp.ID])
			if d.Counted.Equal(d.Expected) {
				continue
			}
			kept = append(kept, exportLine{position: sp, product: l.product, counted: d.Counted})
		}
		if len(kept) == 0 {
			return cs, nil
		}
		draft = cs.addImport(locked.ID, ImportTypeExport, DeviceNameExport)
		for i := range kept {
			l := &kept[i]
			cs.supersedePositions(l.position.ID)
			draft.add(&l.position, l.counted, l.counted)
		}
		return cs, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if draft == nil {
		return nil, nil, nil
	}
	return kept, &draft.imp.ID, nil
}

// exportCandidates is the read phase: enabled positions of active, main count,
// signed sheets whose live counted quantity differs from expected, restricted
// to products the catalog still resolves to a main code.
func exportCandidates(ctx context.Context, db *gorm.DB, countId int) (map[int][]exportLine, []*Sheet, []int, error) {
	var sheets []*Sheet
	err := db.WithContext(ctx).
		Where("count_id = ? AND active = ? AND main_count = ? AND removed_at IS NULL", countId, true, true).
		Where("signing_at IS NOT NULL AND signing_by IS NOT NULL").
		Order("id").
		Find(&sheets).Error
	if err != nil || len(sheets) == 0 {
		return nil, nil, []int{}, err
	}
	sheetIds := make([]int, 0, len(sheets))
	for _, s := range sheets {
		sheetIds = append(sheetIds, s.ID)
	}

	var positions []SheetPosition
	if err := db.WithContext(ctx).
		Where("sheet_id IN ? AND is_disabled = ?", sheetIds, false).
		Order("id").
		Find(&positions).Error; err != nil {
		return nil, nil, nil, err
	}
	ids := make([]int, 0, len(positions))
	productIds := make([]int, 0, len(positions))
	for _, sp := range positions {
		ids = append(ids, sp.ID)
		productIds = append(productIds, sp.ProductId)
	}
	entries, err := loadCountEntries(ctx, db, ids)
	if err != nil {
		return nil, nil, nil, err
	}
	products, err := findProductsByIds(ctx, db, productIds)
	if err != nil {
		return nil, nil, nil, err
	}

	bySheet := make(map[int][]exportLine)
	unresolved := []int{}
	seen := make(map[int]bool)
	for _, sp := range positions {
		d := ComputeDelta(sp.ExpectedQuantity, entries[sp.ID])
		if d.Counted.Equal(d.Expected) {
			continue
		}
		p := products[sp.ProductId]
		if p == nil || strings.TrimSpace(p.MainCode) == "" {
			if !seen[sp.ProductId] {
				seen[sp.ProductId] = true
				unresolved = append(unresolved, sp.ProductId)
			}
			continue
		}
		bySheet[sp.SheetId] = append(bySheet[sp.SheetId], exportLine{position: sp, product: p, counted: d.Counted})
	}

	touched := make([]*Sheet, 0, len(bySheet))
	for _, s := range sheets {
		if len(bySheet[s.ID]) > 0 {
			touched = append(touched, s)
		}
	}
	return bySheet, touched, unresolved, nil
}

// groupExportRows nets positions of the same product into one row.
func groupExportRows(lines []exportLine) []ExportRow {
	byProduct := make(map[int]*ExportRow)
	for _, l := range lines {
		row, ok := byProduct[l.product.ProductId]
		if !ok {
			row = &ExportRow{ProductId: l.product.ProductId, MainCode: strings.TrimSpace(l.product.MainCode), Counted: decimal.Zero}
			byProduct[l.product.ProductId] = row
		}
		row.Counted = row.Counted.Add(l.counted)
	}
	rows := make([]ExportRow, 0, len(byProduct))
	for _, r := range byProduct {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].MainCode != rows[j].MainCode {
			return rows[i].MainCode < rows[j].MainCode
		}
		return rows[i].ProductId < rows[j].ProductId
	})
	return rows
}

// RenderExportCSV writes the semicolon separated hand-off format:
// a MainCode;Counted header, then one line per product.
func RenderExportCSV(rows []ExportRow) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	_ = w.Write([]string{"MainCode", "Counted"})
	for _, r := range rows {
		_ = w.Write([]string{r.MainCode, utils.RoundQuantity(r.Counted).String()})
	}
	w.Flush()
	return buf.Bytes()
}

// ListExports lists files already exported for a count.
func ListExports(ctx context.Context, store utils.BlobStore, countId int) (*ExportList, error) {
	if _, err := getCount(ctx, config.GetDB(), countId); err != nil {
		return nil, err
	}
	prefix := exportsPrefix(countId)
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(keys))
	for _, k := range keys {
		files = append(files, strings.TrimPrefix(k, prefix))
	}
	return &ExportList{BasePath: prefix, Files: files}, nil
}
