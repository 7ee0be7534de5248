package models

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// CountEntry is one import position together with the enabled flag of its
// import, which is everything the aggregation needs.
type CountEntry struct {
	ImportPositionId int             `json:"import_position_id"`
	ImportId         int             `json:"import_id"`
	SheetPositionId  int             `json:"sheet_position_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	ExpectedQuantity decimal.Decimal `json:"expected_quantity"`
	PositionDisabled bool            `json:"position_disabled"`
	ImportDisabled   bool            `json:"import_disabled"`
}

func (e CountEntry) Active() bool {
	return !e.PositionDisabled && !e.ImportDisabled
}

type Delta struct {
	Counted  decimal.Decimal `json:"counted"`
	Expected decimal.Decimal `json:"expected"`
	Delta    decimal.Decimal `json:"delta"`
	// Imported is false when no active entry exists and Expected fell back
	// to the position's own expected quantity.
	Imported bool `json:"imported"`
}

// ComputeDelta sums the active entries. Without active entries counted is
// zero and expected is the static expected quantity of the position.
func ComputeDelta(staticExpected decimal.Decimal, entries []CountEntry) Delta {
	counted := decimal.Zero
	expected := decimal.Zero
	active := 0
	for _, e := range entries {
		if !e.Active() {
			continue
		}
		active++
		counted = counted.Add(e.Quantity)
		expected = expected.Add(e.ExpectedQuantity)
	}
	if active == 0 {
		expected = staticExpected
	}
	return Delta{
		Counted:  counted,
		Expected: expected,
		Delta:    counted.Sub(expected),
		Imported: active > 0,
	}
}

// PositionView is a sheet position with its live aggregation and catalog
// data. It is built by ProjectPosition and never written back.
type PositionView struct {
	SheetPositionId  int             `json:"sheet_position_id"`
	SheetId          int             `json:"sheet_id"`
	ProductId        int             `json:"product_id"`
	ExpectedQuantity decimal.Decimal `json:"expected_quantity"`
	IsDisabled       bool            `json:"is_disabled"`
	Comment          string          `json:"comment"`

	Counted    decimal.Decimal `json:"counted"`
	Expected   decimal.Decimal `json:"expected"`
	Delta      decimal.Decimal `json:"delta"`
	Imported   bool            `json:"imported"`
	DeltaValue decimal.Decimal `json:"delta_value"`
	OnShelf    decimal.Decimal `json:"on_shelf"`
	OnPcMarket decimal.Decimal `json:"on_pc_market"`

	ProductResolved bool            `json:"product_resolved"`
	ProductName     string          `json:"product_name"`
	MainCode        string          `json:"main_code"`
	ExtraCodes      string          `json:"extra_codes"`
	RetailPrice     decimal.Decimal `json:"retail_price"`
}

// ProjectPosition builds the view of one sheet position. product may be nil
// when the catalog no longer knows the product.
func ProjectPosition(sp SheetPosition, entries []CountEntry, product *Product) PositionView {
	d := ComputeDelta(sp.ExpectedQuantity, entries)
	view := PositionView{
		SheetPositionId:  sp.ID,
		SheetId:          sp.SheetId,
		ProductId:        sp.ProductId,
		ExpectedQuantity: sp.ExpectedQuantity,
		IsDisabled:       sp.IsDisabled,
		Comment:          sp.Comment,
		Counted:          d.Counted,
		Expected:         d.Expected,
		Delta:            d.Delta,
		Imported:         d.Imported,
		DeltaValue:       decimal.Zero,
		OnShelf:          utils.RoundQuantity(d.Delta),
		OnPcMarket:       decimal.Zero,
		RetailPrice:      decimal.Zero,
	}
	if product != nil {
		view.ProductResolved = true
		view.ProductName = product.Name
		view.MainCode = product.MainCode
		view.ExtraCodes = product.ExtraCodes
		view.RetailPrice = product.RetailPrice
		view.DeltaValue = d.Delta.Mul(product.RetailPrice)
		view.OnPcMarket = product.ReferenceQuantity
		view.OnShelf = utils.RoundQuantity(product.ReferenceQuantity.Add(d.Delta))
	}
	return view
}

// loadCountEntries returns the entries of every import position recorded
// against the given sheet positions, keyed by sheet position id.
func loadCountEntries(ctx context.Context, db *gorm.DB, sheetPositionIds []int) (map[int][]CountEntry, error) {
	result := make(map[int][]CountEntry)
	sheetPositionIds = utils.UniqueSlice(sheetPositionIds)
	if len(sheetPositionIds) == 0 {
		return result, nil
	}
	var rows []CountEntry
	err := db.WithContext(ctx).Table("import_positions AS ip").
		Select(`ip.id AS import_position_id, ip.import_id, ip.sheet_position_id,
			ip.quantity, ip.expected_quantity,
			ip.is_disabled AS position_disabled, i.is_disabled AS import_disabled`).
		Joins("JOIN imports AS i ON i.id = ip.import_id").
		Where("ip.sheet_position_id IN ?", sheetPositionIds).
		Order("ip.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.SheetPositionId] = append(result[row.SheetPositionId], row)
	}
	return result, nil
}

// projectPositions loads entries and catalog rows for positions and projects them.
func projectPositions(ctx context.Context, db *gorm.DB, positions []SheetPosition) ([]PositionView, error) {
	ids := make([]int, 0, len(positions))
	productIds := make([]int, 0, len(positions))
	for _, sp := range positions {
		ids = append(ids, sp.ID)
		productIds = append(productIds, sp.ProductId)
	}
	entries, err := loadCountEntries(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	products, err := findProductsByIds(ctx, db, productIds)
	if err != nil {
		return nil, err
	}
	views := make([]PositionView, 0, len(positions))
	for _, sp := range positions {
		views = append(views, ProjectPosition(sp, entries[sp.ID], products[sp.ProductId]))
	}
	return views, nil
}
