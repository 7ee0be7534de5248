package models

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/stocktake_backend/models")

type DeviceFileUpload struct {
	FileName string `json:"file_name"`
	Content  []byte `json:"content"`
}

type SheetImportReport struct {
	SheetId   int       `json:"sheet_id"`
	SheetName string    `json:"sheet_name"`
	Kind      SheetKind `json:"kind"`
	ImportId  *int      `json:"import_id,omitempty"`
	Positions int       `json:"positions"`
	// ProductsWithoutPosition were counted but have no position on a paper sheet.
	ProductsWithoutPosition []int `json:"products_without_position,omitempty"`
	// ProductsWithoutBaseline have no reference quantity to open a dynamic position with.
	ProductsWithoutBaseline []int  `json:"products_without_baseline,omitempty"`
	Closed                  bool   `json:"closed"`
	Error                   string `json:"error,omitempty"`
}

type FileImportReport struct {
	FileName     string              `json:"file_name"`
	Letter       string              `json:"letter"`
	ImportFileId int                 `json:"import_file_id"`
	Rows         int                 `json:"rows"`
	SkippedRows  int                 `json:"skipped_rows"`
	NotFound     []string            `json:"not_found"`
	Sheets       []SheetImportReport `json:"sheets"`
}

type ImportReport struct {
	Files []FileImportReport `json:"files"`
}

// matchedRow is a device row that survived filtering, with its catalog match.
type matchedRow struct {
	DeviceRow
	productId int
}

// ImportDeviceFiles runs the device import for a batch of files. All files
// are parsed before anything is written; each file is archived before it is
// processed; each sheet is processed in its own transaction and a failing
// sheet is reported without affecting the others.
func ImportDeviceFiles(ctx context.Context, store utils.BlobStore, uploads []DeviceFileUpload, countId int, actingUserId int) (*ImportReport, error) {
	if len(uploads) == 0 {
		return nil, utils.NewFieldError("files", "required")
	}
	files := make([]*DeviceFile, 0, len(uploads))
	for _, u := range uploads {
		f, err := ParseDeviceFile(u.FileName, u.Content)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	count, err := getCount(ctx, db, countId)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Files: make([]FileImportReport, 0, len(files))}
	for _, f := range files {
		record, err := archiveDeviceFile(ctx, db, store, f, count, actingUserId)
		if err != nil {
			config.LogError(config.GetLogger(), "Import", "ImportDeviceFiles", "archiving device file", f.FileName, err)
			return report, err
		}
		fileReport, err := processDeviceFile(ctx, db, f, record, actingUserId)
		if err != nil {
			config.LogError(config.GetLogger(), "Import", "ImportDeviceFiles", "processing device file", f.FileName, err)
			return report, err
		}
		report.Files = append(report.Files, *fileReport)
	}
	return report, nil
}

func processDeviceFile(ctx context.Context, db *gorm.DB, file *DeviceFile, record *ImportFile, userId int) (*FileImportReport, error) {
	ctx, span := tracer.Start(ctx, "import.file", trace.WithAttributes(
		attribute.String("file.name", file.FileName),
		attribute.String("file.letter", file.Letter),
		attribute.Int("file.rows", len(file.Rows)),
	))
	defer span.End()
	logger := config.GetLogger().WithFields(logrus.Fields{"file": file.FileName, "import_file_id": record.ID})

	report := &FileImportReport{
		FileName:     file.FileName,
		Letter:       file.Letter,
		ImportFileId: record.ID,
		Rows:         len(file.Rows),
		NotFound:     []string{},
		Sheets:       []SheetImportReport{},
	}

	var names []string
	for _, row := range file.Rows {
		if _, ok := classifySheetName(row.Sheet, file.Letter); ok {
			names = append(names, row.Sheet)
		}
	}
	names = utils.UniqueSlice(names)

	var openSheets []*Sheet
	if len(names) > 0 {
		err := db.WithContext(ctx).
			Where("name IN ? AND count_id = ?", names, record.CountId).
			Where("closed_at IS NULL AND active = ? AND removed_at IS NULL AND temporary = ?", true, false).
			Order("name, id").
			Find(&openSheets).Error
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if len(openSheets) == 0 {
		report.SkippedRows = len(file.Rows)
		logger.Info("no open sheet for device file")
		return report, nil
	}
	byName := make(map[string]*Sheet, len(openSheets))
	for _, s := range openSheets {
		if _, dup := byName[s.Name]; !dup {
			byName[s.Name] = s
		}
	}

	var surviving []DeviceRow
	var codes []string
	for _, row := range file.Rows {
		qty := utils.RoundQuantity(row.Quantity)
		if _, ok := byName[row.Sheet]; !ok || qty.IsZero() {
			report.SkippedRows++
			continue
		}
		row.Quantity = qty
		surviving = append(surviving, row)
		codes = append(codes, row.Code)
	}

	products, err := FindProductsByNormalizedCodes(ctx, db, codes)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	resolved := ResolveCodes(products, codes)
	productsById := make(map[int]*Product, len(products))
	for _, p := range products {
		productsById[p.ProductId] = p
	}

	rowsBySheet := make(map[string][]matchedRow)
	notFound := make(map[string]struct{})
	for _, row := range surviving {
		id, ok := resolved[NormalizeCode(row.Code)]
		if !ok {
			if _, seen := notFound[row.Code]; !seen {
				notFound[row.Code] = struct{}{}
				report.NotFound = append(report.NotFound, row.Code)
			}
			continue
		}
		rowsBySheet[row.Sheet] = append(rowsBySheet[row.Sheet], matchedRow{DeviceRow: row, productId: id})
	}

	sheets := make([]*Sheet, 0, len(byName))
	for _, s := range byName {
		sheets = append(sheets, s)
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].Name < sheets[j].Name })

	for _, sheet := range sheets {
		kind, _ := classifySheetName(sheet.Name, file.Letter)
		sr := importSheet(ctx, db, sheet, kind, rowsBySheet[sheet.Name], productsById, file.Letter, record.ID, userId)
		report.Sheets = append(report.Sheets, sr)
	}

	span.SetAttributes(
		attribute.Int("file.skipped_rows", report.SkippedRows),
		attribute.Int("file.not_found", len(report.NotFound)),
		attribute.Int("file.sheets", len(report.Sheets)),
	)
	logger.WithFields(logrus.Fields{
		"sheets":       len(report.Sheets),
		"skipped_rows": report.SkippedRows,
		"not_found":    len(report.NotFound),
	}).Info("device file processed")
	return report, nil
}

// groupByProduct sums repeated scans per product, in product id order.
func groupByProduct(rows []matchedRow) ([]int, map[int]decimal.Decimal) {
	sums := make(map[int]decimal.Decimal)
	for _, r := range rows {
		sums[r.productId] = sums[r.productId].Add(r.Quantity)
	}
	ids := make([]int, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, sums
}

func importSheet(
	ctx context.Context,
	db *gorm.DB,
	sheet *Sheet,
	kind SheetKind,
	rows []matchedRow,
	products map[int]*Product,
	letter string,
	importFileId int,
	userId int,
) SheetImportReport {
	ctx, span := tracer.Start(ctx, "import.sheet", trace.WithAttributes(
		attribute.Int("sheet.id", sheet.ID),
		attribute.String("sheet.name", sheet.Name),
		attribute.String("sheet.kind", string(kind)),
	))
	defer span.End()

	report := SheetImportReport{SheetId: sheet.ID, SheetName: sheet.Name, Kind: kind}
	productIds, sums := groupByProduct(rows)

	var draft *importDraft
	err := runSheetTransition(ctx, db, sheet.ID, (*Sheet).canReceiveImport, func(tx *gorm.DB, locked *Sheet) (*changeSet, error) {
		cs := newChangeSet(userId)
		draft = nil
		var lines []countLine
		var err error
		switch kind {
		case SheetKindPaper:
			lines, err = paperLines(tx, cs, locked, productIds, sums, &report)
		case SheetKindDynamic:
			lines, err = dynamicLines(tx, cs, locked, productIds, sums, products, &report)
		default:
			err = fmt.Errorf("sheet %s cannot be classified for letter %s", locked.Name, letter)
		}
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 {
			// A processed paper sheet is fully counted even when nothing on it
			// matched; there is just no import to record. A dynamic sheet
			// stays open until a product with a baseline arrives.
			if kind == SheetKindPaper {
				cs.closeSheet(locked.ID)
				report.Closed = true
			}
			return cs, nil
		}
		draft = cs.addImport(locked.ID, ImportTypeDevice, letter)
		draft.imp.ImportFileId = &importFileId
		for _, l := range lines {
			draft.add(l.sheetPosition, l.quantity, l.expected)
		}
		cs.closeSheet(locked.ID)
		report.Positions = len(lines)
		report.Closed = true
		return cs, nil
	})
	if err != nil {
		report.Positions = 0
		report.Closed = false
		draft = nil
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(config.GetLogger(), "Import", "importSheet", "sheet import rolled back", sheet.Name, err)
		return report
	}
	if draft != nil {
		report.ImportId = &draft.imp.ID
	}
	span.SetAttributes(attribute.Int("sheet.positions", report.Positions), attribute.Bool("sheet.closed", report.Closed))
	return report
}

// paperLines counts against the positions printed on the sheet. The new
// counts supersede whatever was recorded for those positions before.
func paperLines(tx *gorm.DB, cs *changeSet, sheet *Sheet, productIds []int, sums map[int]decimal.Decimal, report *SheetImportReport) ([]countLine, error) {
	if len(productIds) == 0 {
		return nil, nil
	}
	var positions []*SheetPosition
	if err := tx.Where("sheet_id = ? AND product_id IN ? AND is_disabled = ?", sheet.ID, productIds, false).
		Order("id").Find(&positions).Error; err != nil {
		return nil, err
	}
	byProduct := make(map[int]*SheetPosition, len(positions))
	for _, sp := range positions {
		if _, dup := byProduct[sp.ProductId]; !dup {
			byProduct[sp.ProductId] = sp
		}
	}
	var lines []countLine
	for _, id := range productIds {
		sp, ok := byProduct[id]
		if !ok {
			report.ProductsWithoutPosition = append(report.ProductsWithoutPosition, id)
			continue
		}
		cs.supersedePositions(sp.ID)
		lines = append(lines, countLine{sheetPosition: sp, quantity: sums[id], expected: sp.ExpectedQuantity})
	}
	return lines, nil
}

// dynamicLines opens positions as products are scanned. The live reference
// quantity becomes the expected quantity; a zero reference cannot serve as a
// baseline and the product is skipped.
func dynamicLines(tx *gorm.DB, cs *changeSet, sheet *Sheet, productIds []int, sums map[int]decimal.Decimal, products map[int]*Product, report *SheetImportReport) ([]countLine, error) {
	if len(productIds) == 0 {
		return nil, nil
	}
	var existing []*SheetPosition
	if err := tx.Where("sheet_id = ? AND product_id IN ? AND is_disabled = ?", sheet.ID, productIds, false).
		Order("id").Find(&existing).Error; err != nil {
		return nil, err
	}
	byProduct := make(map[int]*SheetPosition, len(existing))
	for _, sp := range existing {
		if _, dup := byProduct[sp.ProductId]; !dup {
			byProduct[sp.ProductId] = sp
		}
	}

	var lines []countLine
	for _, id := range productIds {
		p, ok := products[id]
		if !ok || p.ReferenceQuantity.IsZero() {
			report.ProductsWithoutBaseline = append(report.ProductsWithoutBaseline, id)
			continue
		}
		reference := utils.RoundQuantity(p.ReferenceQuantity)
		sp, ok := byProduct[id]
		if !ok {
			sp = cs.createPosition(&SheetPosition{
				SheetId:          sheet.ID,
				ProductId:        id,
				ExpectedQuantity: reference,
			})
			byProduct[id] = sp
		}
		lines = append(lines, countLine{sheetPosition: sp, quantity: sums[id], expected: reference})
	}
	return lines, nil
}
