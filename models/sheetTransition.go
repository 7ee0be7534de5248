package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

const sheetLockTTL = 30 * time.Second

func sheetLockKey(sheetId int) string {
	return fmt.Sprintf("stocktake:sheet:%d", sheetId)
}

func logTransition(transition string, sheetId int, userId int) {
	config.GetLogger().WithFields(logrus.Fields{
		"transition": transition,
		"sheet_id":   sheetId,
		"user_id":    userId,
	}).Info("sheet transition committed")
}

// runSheetTransition takes the sheet lock, then re-reads the sheet FOR UPDATE
// inside the transaction and checks the precondition again before build
// assembles the writes. A precondition that no longer holds is a conflict.
func runSheetTransition(
	ctx context.Context,
	db *gorm.DB,
	sheetId int,
	check func(*Sheet) error,
	build func(tx *gorm.DB, sheet *Sheet) (*changeSet, error),
) error {
	err := utils.WithLock(ctx, sheetLockKey(sheetId), sheetLockTTL, func(ctx context.Context) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sheet, err := lockSheet(tx, sheetId)
			if err != nil {
				return err
			}
			if err := check(sheet); err != nil {
				return utils.NewConflictError(err, "sheet %d: %v", sheetId, err)
			}
			cs, err := build(tx, sheet)
			if err != nil {
				return err
			}
			return cs.apply(tx)
		})
	})
	return utils.MapDBError(err)
}

// precondition loads the sheet outside any transaction and reports a failed
// check as a not-found style error naming the invariant.
func precondition(ctx context.Context, db *gorm.DB, sheetId int, check func(*Sheet) error) (*Sheet, error) {
	sheet, err := getSheet(ctx, db, sheetId)
	if err != nil {
		return nil, err
	}
	if err := check(sheet); err != nil {
		return nil, utils.NewNotFoundError(err, "sheet %d: %v", sheetId, err)
	}
	return sheet, nil
}

type FinalizeResult struct {
	Sheet     *Sheet       `json:"sheet"`
	Positions int64        `json:"positions"`
	Output    OutputReport `json:"output"`
}

// FinalizeSheet turns a draft into an open paper sheet named
// <letter><YYMMDD><seq>. The document and print step runs after the commit
// and cannot undo it.
func FinalizeSheet(ctx context.Context, sheetId int, letter string, actingUserId int, out SheetOutput) (*FinalizeResult, error) {
	letter, err := normalizeLetter(letter)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	if _, err := precondition(ctx, db, sheetId, (*Sheet).canFinalize); err != nil {
		return nil, err
	}

	err = runSheetTransition(ctx, db, sheetId, (*Sheet).canFinalize, func(tx *gorm.DB, sheet *Sheet) (*changeSet, error) {
		cs := newChangeSet(actingUserId)
		name, err := nextSheetName(tx, letter, cs.at, false)
		if err != nil {
			return nil, err
		}
		values := name.columns()
		values["temporary"] = false
		cs.updateSheet(sheet.ID, values)
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	logTransition("finalize", sheetId, actingUserId)

	sheet, err := getSheet(ctx, db, sheetId)
	if err != nil {
		return nil, err
	}
	var positions int64
	if err := db.WithContext(ctx).Model(&SheetPosition{}).Where("sheet_id = ? AND is_disabled = ?", sheetId, false).Count(&positions).Error; err != nil {
		return nil, err
	}
	return &FinalizeResult{
		Sheet:     sheet,
		Positions: positions,
		Output:    out.deliver(ctx, sheetId),
	}, nil
}

// CloseSheet marks counting as finished and leaves a close marker import.
// Closing twice fails.
func CloseSheet(ctx context.Context, sheetId int, actingUserId int) (*Sheet, error) {
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	if _, err := precondition(ctx, db, sheetId, (*Sheet).canClose); err != nil {
		return nil, err
	}
	err := runSheetTransition(ctx, db, sheetId, (*Sheet).canClose, func(tx *gorm.DB, sheet *Sheet) (*changeSet, error) {
		cs := newChangeSet(actingUserId)
		cs.addImport(sheet.ID, ImportTypeCloseMarker, DeviceNameClose)
		cs.closeSheet(sheet.ID)
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	logTransition("close", sheetId, actingUserId)
	return getSheet(ctx, db, sheetId)
}

// SignPosition is the accepted reconciliation of one sheet position.
type SignPosition struct {
	SheetPositionId int             `json:"id" validate:"required,gt=0"`
	OnShelf         decimal.Decimal `json:"on_shelf" validate:"gte=0"`
	OnPcMarket      decimal.Decimal `json:"on_pc_market"`
}

type SignSheetInput struct {
	Positions []SignPosition `json:"positions" validate:"dive"`
}

func (input SignSheetInput) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	seen := make(map[int]struct{}, len(input.Positions))
	for _, p := range input.Positions {
		if _, ok := seen[p.SheetPositionId]; ok {
			return utils.NewFieldError("positions", fmt.Sprintf("position %d listed twice", p.SheetPositionId))
		}
		seen[p.SheetPositionId] = struct{}{}
	}
	return nil
}

// SignSheet locks in the deltas of a closed sheet. Every supplied position
// gets its active counts superseded by one correction import; the whole
// signing is one transaction.
func SignSheet(ctx context.Context, sheetId int, input SignSheetInput, actingUserId int) (*Sheet, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	if _, err := precondition(ctx, db, sheetId, (*Sheet).canSign); err != nil {
		return nil, err
	}

	err := runSheetTransition(ctx, db, sheetId, (*Sheet).canSign, func(tx *gorm.DB, sheet *Sheet) (*changeSet, error) {
		ids := make([]int, 0, len(input.Positions))
		for _, p := range input.Positions {
			ids = append(ids, p.SheetPositionId)
		}
		byId := make(map[int]*SheetPosition, len(ids))
		if len(ids) > 0 {
			var positions []*SheetPosition
			if err := tx.Where("id IN ? AND sheet_id = ?", ids, sheet.ID).Find(&positions).Error; err != nil {
				return nil, err
			}
			for _, sp := range positions {
				byId[sp.ID] = sp
			}
		}

		cs := newChangeSet(actingUserId)
		cs.supersedePositions(ids...)
		draft := cs.addImport(sheet.ID, ImportTypeCorrection, DeviceNameCorrection)
		for _, p := range input.Positions {
			sp, ok := byId[p.SheetPositionId]
			if !ok {
				return nil, utils.NewNotFoundError(ErrPositionNotOnSheet, "position %d does not belong to sheet %d", p.SheetPositionId, sheet.ID)
			}
			draft.add(sp, utils.RoundQuantity(p.OnShelf), utils.RoundQuantity(p.OnPcMarket))
		}
		cs.updateSheet(sheet.ID, map[string]interface{}{"signing_at": cs.at, "signing_by": actingUserId})
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	logTransition("sign", sheetId, actingUserId)
	return getSheet(ctx, db, sheetId)
}

// RemoveSheet soft deletes a sheet. Only its author may do it, never after
// signing, and never twice.
func RemoveSheet(ctx context.Context, sheetId int, actingUserId int) (*Sheet, error) {
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	check := func(s *Sheet) error { return s.canRemove(actingUserId) }
	if _, err := precondition(ctx, db, sheetId, check); err != nil {
		return nil, err
	}
	err := runSheetTransition(ctx, db, sheetId, check, func(tx *gorm.DB, sheet *Sheet) (*changeSet, error) {
		cs := newChangeSet(actingUserId)
		cs.updateSheet(sheet.ID, map[string]interface{}{
			"active":     false,
			"removed_at": cs.at,
			"removed_by": actingUserId,
		})
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	logTransition("remove", sheetId, actingUserId)
	return getSheet(ctx, db, sheetId)
}

type ProductBrief struct {
	ProductId  int    `json:"product_id"`
	Name       string `json:"name"`
	MainCode   string `json:"main_code"`
	ExtraCodes string `json:"extra_codes"`
}

func briefOf(p *Product) ProductBrief {
	return ProductBrief{ProductId: p.ProductId, Name: p.Name, MainCode: p.MainCode, ExtraCodes: p.ExtraCodes}
}

type UsedProduct struct {
	ProductBrief
	SheetId   int    `json:"sheet_id"`
	SheetName string `json:"sheet_name"`
}

type TempSheetResult struct {
	CreatedSheet bool           `json:"created_sheet"`
	Sheet        *Sheet         `json:"sheet,omitempty"`
	Passed       []ProductBrief `json:"passed"`
	NotActive    []ProductBrief `json:"not_active"`
	Used         []UsedProduct  `json:"used"`
	NotFound     []int          `json:"not_found"`
}

type usedRow struct {
	ProductId int
	SheetId   int
	SheetName string
}

// CreateTempSheet classifies the requested products and, when at least one
// can be counted, creates a draft main count sheet holding them.
func CreateTempSheet(ctx context.Context, productIds []int, countId int, actingUserId int) (*TempSheetResult, error) {
	productIds = utils.UniqueSlice(productIds)
	if len(productIds) == 0 {
		return nil, utils.NewFieldError("products", "required")
	}
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	if _, err := getCount(ctx, db, countId); err != nil {
		return nil, err
	}
	products, err := findProductsByIds(ctx, db, productIds)
	if err != nil {
		return nil, err
	}

	var activeIds []int
	for _, p := range products {
		if p.Active {
			activeIds = append(activeIds, p.ProductId)
		}
	}
	used := make(map[int]usedRow)
	if len(activeIds) > 0 {
		var rows []usedRow
		err := db.WithContext(ctx).Table("sheet_positions AS sp").
			Select("sp.product_id, s.id AS sheet_id, s.name AS sheet_name").
			Joins("JOIN sheets AS s ON s.id = sp.sheet_id").
			Where("sp.product_id IN ? AND sp.is_disabled = ?", activeIds, false).
			Where("s.count_id = ? AND s.main_count = ? AND s.active = ? AND s.removed_at IS NULL", countId, true, true).
			Order("s.id").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			used[r.ProductId] = r
		}
	}

	result := &TempSheetResult{
		Passed:    []ProductBrief{},
		NotActive: []ProductBrief{},
		Used:      []UsedProduct{},
		NotFound:  []int{},
	}
	var passed []*Product
	for _, id := range productIds {
		p, ok := products[id]
		switch {
		case !ok:
			result.NotFound = append(result.NotFound, id)
		case !p.Active:
			result.NotActive = append(result.NotActive, briefOf(p))
		default:
			if u, inSheet := used[id]; inSheet {
				result.Used = append(result.Used, UsedProduct{ProductBrief: briefOf(p), SheetId: u.SheetId, SheetName: u.SheetName})
				continue
			}
			result.Passed = append(result.Passed, briefOf(p))
			passed = append(passed, p)
		}
	}
	if len(passed) == 0 {
		return result, nil
	}

	now := timeNow()
	sheet := &Sheet{
		CountId:   countId,
		Active:    true,
		Temporary: true,
		MainCount: true,
		CreatedBy: actingUserId,
		CreatedAt: now,
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inCount int64
		if err := tx.Model(&Sheet{}).Where("count_id = ?", countId).Count(&inCount).Error; err != nil {
			return err
		}
		sheet.Name = fmt.Sprintf("Temporary Sheet - %d", inCount+1)
		if err := tx.Create(sheet).Error; err != nil {
			return err
		}
		positions := make([]SheetPosition, 0, len(passed))
		for _, p := range passed {
			positions = append(positions, SheetPosition{
				SheetId:          sheet.ID,
				ProductId:        p.ProductId,
				ExpectedQuantity: utils.RoundQuantity(p.ReferenceQuantity),
			})
		}
		return tx.Create(&positions).Error
	})
	if err != nil {
		return nil, utils.MapDBError(err)
	}
	config.GetLogger().WithFields(logrus.Fields{
		"sheet_id":   sheet.ID,
		"user_id":    actingUserId,
		"transition": "create_temp",
		"passed":     len(result.Passed),
		"not_active": len(result.NotActive),
		"used":       len(result.Used),
		"not_found":  len(result.NotFound),
	}).Info("temporary sheet created")

	result.CreatedSheet = true
	result.Sheet = sheet
	return result, nil
}

type DynamicSheetResult struct {
	Sheet  *Sheet       `json:"sheet"`
	Output OutputReport `json:"output"`
}

func dynamicLetterInUse(tx *gorm.DB, letter string) (bool, error) {
	var n int64
	err := tx.Model(&Sheet{}).
		Where("dynamic = ? AND closed_at IS NULL AND active = ? AND removed_at IS NULL", true, true).
		Where("name_letter = ?", letter).
		Count(&n).Error
	return n > 0, err
}

// CreateDynamicSheet opens an open-ended sheet named <YYMMDD><seq><letter>.
// Only one open dynamic sheet may use a letter at a time.
func CreateDynamicSheet(ctx context.Context, letter string, countId int, actingUserId int, out SheetOutput) (*DynamicSheetResult, error) {
	letter, err := normalizeLetter(letter)
	if err != nil {
		return nil, err
	}
	if !isDynamicLetter(letter) {
		return nil, utils.NewFieldError("letter", "must be one of "+strings.Join(DynamicLetters, ","))
	}
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	if _, err := getCount(ctx, db, countId); err != nil {
		return nil, err
	}
	inUse, err := dynamicLetterInUse(db.WithContext(ctx), letter)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, utils.NewNotFoundError(ErrDynamicLetterInUse, "letter %s: %v", letter, ErrDynamicLetterInUse)
	}

	var sheet *Sheet
	err = utils.WithLock(ctx, "stocktake:dynamic:"+letter, sheetLockTTL, func(ctx context.Context) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			inUse, err := dynamicLetterInUse(tx, letter)
			if err != nil {
				return err
			}
			if inUse {
				return utils.NewConflictError(ErrDynamicLetterInUse, "letter %s: %v", letter, ErrDynamicLetterInUse)
			}
			now := timeNow()
			name, err := nextSheetName(tx, letter, now, true)
			if err != nil {
				return err
			}
			sheet = &Sheet{
				CountId:    countId,
				Name:       name.String(),
				NameLetter: &name.Letter,
				NameDate:   &name.Date,
				NameSeq:    &name.Seq,
				Dynamic:    true,
				Active:     true,
				MainCount:  true,
				CreatedBy:  actingUserId,
				CreatedAt:  now,
			}
			return tx.Create(sheet).Error
		})
	})
	if err != nil {
		return nil, utils.MapDBError(err)
	}
	logTransition("create_dynamic", sheet.ID, actingUserId)
	return &DynamicSheetResult{Sheet: sheet, Output: out.deliver(ctx, sheet.ID)}, nil
}
