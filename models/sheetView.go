package models

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

const (
	defaultSheetPageSize = 50
	maxSheetPageSize     = 500
)

type ListSheetsInput struct {
	Offset   int               `json:"offset" form:"offset" validate:"gte=0"`
	Limit    int               `json:"limit" form:"limit" validate:"gte=0,lte=500"`
	Query    string            `json:"q" form:"q"`
	Statuses []SheetListStatus `json:"statuses" form:"statuses"`
	CountId  int               `json:"count_id" form:"count_id" validate:"gte=0"`
}

type SheetPage struct {
	Total   int64    `json:"total"`
	Results []*Sheet `json:"results"`
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// ListSheets pages over the sheets that are not removed, newest first. Every
// word of Query must appear in the name or the comment.
func ListSheets(ctx context.Context, input ListSheetsInput) (*SheetPage, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	limit := input.Limit
	if limit == 0 {
		limit = defaultSheetPageSize
	}
	limit = min(limit, maxSheetPageSize)

	db := config.GetDB()
	query := db.WithContext(ctx).Model(&Sheet{}).Where("active = ? AND removed_at IS NULL", true)
	if input.CountId > 0 {
		query = query.Where("count_id = ?", input.CountId)
	}

	if len(input.Statuses) > 0 {
		cond := db.Where("1 = 0")
		for _, status := range input.Statuses {
			switch status {
			case SheetListStatusOpen:
				cond = cond.Or("closed_at IS NULL")
			case SheetListStatusToBeApproved:
				cond = cond.Or("closed_at IS NOT NULL AND signing_at IS NULL")
			case SheetListStatusFinished:
				cond = cond.Or("closed_at IS NOT NULL AND signing_at IS NOT NULL")
			default:
				return nil, utils.NewFieldError("statuses", "invalid sheet status "+string(status))
			}
		}
		query = query.Where(cond)
	}

	for _, word := range strings.Fields(strings.ToLower(input.Query)) {
		pattern := "%" + escapeLike(word) + "%"
		query = query.Where("(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(COALESCE(comment, '')) LIKE ? ESCAPE '!')", pattern, pattern)
	}

	query = query.Session(&gorm.Session{})
	page := &SheetPage{Results: []*Sheet{}}
	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}
	if err := query.Order("created_at DESC, id DESC").Offset(input.Offset).Limit(limit).Find(&page.Results).Error; err != nil {
		return nil, err
	}
	return page, nil
}

// DynamicLetterAvailability reports for each dynamic letter whether no open
// dynamic sheet uses it.
func DynamicLetterAvailability(ctx context.Context) (map[string]bool, error) {
	result := make(map[string]bool, len(DynamicLetters))
	for _, l := range DynamicLetters {
		result[l] = true
	}
	var sheets []Sheet
	err := config.GetDB().WithContext(ctx).
		Select("id", "name", "name_letter").
		Where("dynamic = ? AND closed_at IS NULL AND active = ? AND removed_at IS NULL", true, true).
		Find(&sheets).Error
	if err != nil {
		return nil, err
	}
	for _, s := range sheets {
		letter := utils.DereferencePtr(s.NameLetter, lettersOnly(s.Name))
		if _, ok := result[letter]; ok {
			result[letter] = false
		}
	}
	return result, nil
}

// SheetsToSign lists the closed, unsigned sheets the acting user authored.
func SheetsToSign(ctx context.Context, actingUserId int) ([]*Sheet, error) {
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	sheets := []*Sheet{}
	err := db.WithContext(ctx).
		Where("created_by = ? AND active = ? AND removed_at IS NULL", actingUserId, true).
		Where("closed_at IS NOT NULL AND signing_at IS NULL").
		Order("created_at DESC, id DESC").
		Find(&sheets).Error
	return sheets, err
}

// SheetToSignPositions is the reconciliation view a verifier signs from.
func SheetToSignPositions(ctx context.Context, sheetId int, actingUserId int) ([]PositionView, error) {
	db := config.GetDB()
	if _, err := verifyUser(ctx, db, actingUserId); err != nil {
		return nil, err
	}
	sheet, err := precondition(ctx, db, sheetId, (*Sheet).canSign)
	if err != nil {
		return nil, err
	}
	if sheet.CreatedBy != actingUserId {
		return nil, utils.NewNotFoundError(ErrSheetNotAuthor, "sheet %d: %v", sheetId, ErrSheetNotAuthor)
	}
	positions, err := sheetPositions(ctx, db, sheetId, false)
	if err != nil {
		return nil, err
	}
	return projectPositions(ctx, db, positions)
}

type ImportPositionView struct {
	ImportPosition
	ProductId   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	Delta       decimal.Decimal `json:"delta"`
	DeltaValue  decimal.Decimal `json:"delta_value"`
}

type ImportView struct {
	Import
	TypeName   string               `json:"type_name"`
	AuthorName string               `json:"author_name"`
	Positions  []ImportPositionView `json:"positions"`
}

type SheetDetailView struct {
	Sheet     *Sheet         `json:"sheet"`
	Users     map[int]string `json:"users"`
	Positions []PositionView `json:"positions"`
	Imports   []ImportView   `json:"imports"`
}

// SheetDetail returns a sheet with its aggregated positions and every import
// ever recorded against it, disabled ones included.
func SheetDetail(ctx context.Context, sheetId int) (*SheetDetailView, error) {
	db := config.GetDB()
	sheet, err := getSheet(ctx, db, sheetId)
	if err != nil {
		return nil, err
	}
	positions, err := sheetPositions(ctx, db, sheetId, true)
	if err != nil {
		return nil, err
	}
	views, err := projectPositions(ctx, db, positions)
	if err != nil {
		return nil, err
	}

	var imports []Import
	if err := db.WithContext(ctx).Preload("Positions", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Where("sheet_id = ?", sheetId).Order("imported_at, id").Find(&imports).Error; err != nil {
		return nil, err
	}

	productOf := make(map[int]int, len(positions))
	productIds := make([]int, 0, len(positions))
	for _, sp := range positions {
		productOf[sp.ID] = sp.ProductId
		productIds = append(productIds, sp.ProductId)
	}
	products, err := findProductsByIds(ctx, db, productIds)
	if err != nil {
		return nil, err
	}

	userIds := []int{sheet.CreatedBy}
	for _, by := range []*int{sheet.ClosedBy, sheet.SigningBy, sheet.RemovedBy} {
		if by != nil {
			userIds = append(userIds, *by)
		}
	}
	for _, imp := range imports {
		userIds = append(userIds, imp.AuthorId)
	}
	names, err := usernames(ctx, db, userIds)
	if err != nil {
		return nil, err
	}

	importViews := make([]ImportView, 0, len(imports))
	for _, imp := range imports {
		iv := ImportView{
			Import:     imp,
			TypeName:   imp.Type.String(),
			AuthorName: names[imp.AuthorId],
			Positions:  make([]ImportPositionView, 0, len(imp.Positions)),
		}
		for _, ip := range imp.Positions {
			delta := ip.Quantity.Sub(ip.ExpectedQuantity)
			pv := ImportPositionView{
				ImportPosition: ip,
				ProductId:      productOf[ip.SheetPositionId],
				Delta:          delta,
				DeltaValue:     decimal.Zero,
			}
			if p, ok := products[pv.ProductId]; ok {
				pv.ProductName = p.Name
				pv.DeltaValue = delta.Mul(p.RetailPrice)
			}
			iv.Positions = append(iv.Positions, pv)
		}
		iv.Import.Positions = nil
		importViews = append(importViews, iv)
	}

	return &SheetDetailView{
		Sheet:     sheet,
		Users:     names,
		Positions: views,
		Imports:   importViews,
	}, nil
}
