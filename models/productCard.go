package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

type HistoryEntry struct {
	When time.Time `json:"when"`
	Who  string    `json:"who"`
	What string    `json:"what"`
}

type QuantityStatus struct {
	Shelf    decimal.Decimal `json:"shelf"`
	PcMarket decimal.Decimal `json:"pc_market"`
	Delta    decimal.Decimal `json:"delta"`
}

type ProductCardView struct {
	Product    *Product        `json:"product"`
	IsInSheet  bool            `json:"is_in_sheet"`
	Sheet      *Sheet          `json:"sheet,omitempty"`
	IsImported bool            `json:"is_imported"`
	Quantity   *QuantityStatus `json:"quantity,omitempty"`
	History    []HistoryEntry  `json:"history"`
}

// countingPosition finds the enabled position of productId on the newest
// active main count sheet of the count.
func countingPosition(ctx context.Context, db *gorm.DB, productId int, countId int) (*SheetPosition, error) {
	var sp SheetPosition
	err := db.WithContext(ctx).Model(&SheetPosition{}).
		Select("sheet_positions.*").
		Joins("JOIN sheets ON sheets.id = sheet_positions.sheet_id").
		Where("sheet_positions.product_id = ? AND sheet_positions.is_disabled = ?", productId, false).
		Where("sheets.count_id = ? AND sheets.main_count = ? AND sheets.active = ? AND sheets.removed_at IS NULL", countId, true, true).
		Order("sheets.id DESC, sheet_positions.id DESC").
		First(&sp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.String()
	}
	return d.String()
}

// ProductCard shows where a product is counted in the count and how its
// quantity got there.
func ProductCard(ctx context.Context, productId int, countId int) (*ProductCardView, error) {
	db := config.GetDB()
	if _, err := getCount(ctx, db, countId); err != nil {
		return nil, err
	}
	product, err := FindProductById(ctx, db, productId)
	if err != nil {
		return nil, err
	}
	card := &ProductCardView{Product: product, History: []HistoryEntry{}}

	sp, err := countingPosition(ctx, db, productId, countId)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return card, nil
	}
	sheet, err := getSheet(ctx, db, sp.SheetId)
	if err != nil {
		return nil, err
	}
	card.IsInSheet = true
	card.Sheet = sheet

	var positions []ImportPosition
	if err := db.WithContext(ctx).Where("sheet_position_id = ?", sp.ID).Order("id").Find(&positions).Error; err != nil {
		return nil, err
	}
	importIds := make([]int, 0, len(positions))
	for _, ip := range positions {
		importIds = append(importIds, ip.ImportId)
	}
	imports := make(map[int]Import)
	if len(importIds) > 0 {
		var rows []Import
		if err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(importIds)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, imp := range rows {
			imports[imp.ID] = imp
		}
	}

	userIds := []int{sheet.CreatedBy}
	for _, by := range []*int{sheet.ClosedBy, sheet.SigningBy} {
		if by != nil {
			userIds = append(userIds, *by)
		}
	}
	for _, ip := range positions {
		userIds = append(userIds, imports[ip.ImportId].AuthorId)
		if ip.DisabledBy != nil {
			userIds = append(userIds, *ip.DisabledBy)
		}
	}
	names, err := usernames(ctx, db, userIds)
	if err != nil {
		return nil, err
	}

	history := []HistoryEntry{{When: sheet.CreatedAt, Who: names[sheet.CreatedBy], What: "position created on sheet " + sheet.Name}}
	if sheet.ClosedAt != nil {
		history = append(history, HistoryEntry{When: *sheet.ClosedAt, Who: names[utils.DereferencePtr(sheet.ClosedBy)], What: "sheet closed: " + sheet.Name})
	}
	if sheet.SigningAt != nil {
		history = append(history, HistoryEntry{When: *sheet.SigningAt, Who: names[utils.DereferencePtr(sheet.SigningBy)], What: "sheet signed: " + sheet.Name})
	}

	entries := make([]CountEntry, 0, len(positions))
	for _, ip := range positions {
		imp := imports[ip.ImportId]
		entries = append(entries, CountEntry{
			ImportPositionId: ip.ID,
			ImportId:         ip.ImportId,
			SheetPositionId:  ip.SheetPositionId,
			Quantity:         ip.Quantity,
			ExpectedQuantity: ip.ExpectedQuantity,
			PositionDisabled: ip.IsDisabled,
			ImportDisabled:   imp.IsDisabled,
		})
		delta := ip.Quantity.Sub(ip.ExpectedQuantity)
		what := fmt.Sprintf("delta changed to %s (on shelf %s, POS %s)", signed(delta), ip.Quantity, ip.ExpectedQuantity)
		if imp.Type == ImportTypeDevice {
			what = fmt.Sprintf("imported delta %s (counted %s, expected %s) from device %s", signed(delta), ip.Quantity, ip.ExpectedQuantity, imp.DeviceName)
		}
		history = append(history, HistoryEntry{When: imp.ImportedAt, Who: names[imp.AuthorId], What: what})
		if ip.DisabledAt != nil && ip.DisabledBy != nil {
			history = append(history, HistoryEntry{
				When: *ip.DisabledAt,
				Who:  names[*ip.DisabledBy],
				What: fmt.Sprintf("import excluded: %s/%s", ip.Quantity, ip.ExpectedQuantity),
			})
		}
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].When.After(history[j].When) })
	card.History = history

	d := ComputeDelta(sp.ExpectedQuantity, entries)
	card.IsImported = len(positions) > 0
	card.Quantity = &QuantityStatus{
		Shelf:    utils.RoundQuantity(product.ReferenceQuantity.Add(d.Delta)),
		PcMarket: product.ReferenceQuantity,
		Delta:    d.Delta,
	}
	return card, nil
}

type ChangeDeltaInput struct {
	ProductId int             `json:"product_id" validate:"required,gt=0"`
	Shelf     decimal.Decimal `json:"shelf" validate:"gte=0"`
	CountId   int             `json:"count_id" validate:"required,gt=0"`
}

// ChangeDelta records a manual shelf quantity for a product. All earlier
// counts of its position are superseded by one delta edit import whose
// expected quantity is the current POS stock.
func ChangeDelta(ctx context.Context, input ChangeDeltaInput, actingUserId int) (*ProductCardView, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	if _, err := getCount(ctx, db, input.CountId); err != nil {
		return nil, err
	}
	product, err := FindProductById(ctx, db, input.ProductId)
	if err != nil {
		return nil, err
	}
	sp, err := countingPosition(ctx, db, input.ProductId, input.CountId)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, utils.NewNotFoundError(ErrNoCountingPosition, "product %d: %v", input.ProductId, ErrNoCountingPosition)
	}
	if _, err := precondition(ctx, db, sp.SheetId, (*Sheet).canEditDelta); err != nil {
		return nil, err
	}

	err = runSheetTransition(ctx, db, sp.SheetId, (*Sheet).canEditDelta, func(tx *gorm.DB, sheet *Sheet) (*changeSet, error) {
		var current SheetPosition
		err := tx.Where("id = ? AND is_disabled = ?", sp.ID, false).First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewConflictError(ErrNoCountingPosition, "position %d was disabled", sp.ID)
		}
		if err != nil {
			return nil, err
		}
		cs := newChangeSet(actingUserId)
		cs.supersedePositions(current.ID)
		draft := cs.addImport(sheet.ID, ImportTypeDeltaEdit, DeviceNameDelta)
		draft.add(&current, utils.RoundQuantity(input.Shelf), utils.RoundQuantity(product.ReferenceQuantity))
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	logTransition("change_delta", sp.SheetId, actingUserId)
	return ProductCard(ctx, input.ProductId, input.CountId)
}
