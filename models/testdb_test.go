package models

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// useTestDB points the global connection at a fresh in-memory sqlite database
// with the full schema, catalog included.
func useTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), config.NewGormConfig())
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	prev := config.GetDB()
	config.SetDB(conn)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})

	MigrateTable()
	MigrateCatalogTable()
	return conn
}

// freezeClock pins timeNow for the rest of the test.
func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return at.UTC() }
	t.Cleanup(func() { timeNow = prev })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ctx   context.Context
	db    *gorm.DB
	user  *User
	other *User
	count *Count
	store *utils.LocalBlobStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := useTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, NewUser{Username: "counter", DefaultLetter: "a"})
	require.NoError(t, err)
	other, err := CreateUser(ctx, NewUser{Username: "verifier"})
	require.NoError(t, err)
	count, err := CreateCount(ctx, "Year end")
	require.NoError(t, err)

	return &fixture{
		ctx:   ctx,
		db:    db,
		user:  user,
		other: other,
		count: count,
		store: utils.NewLocalBlobStore(t.TempDir()),
	}
}

func (f *fixture) product(t *testing.T, id int, mainCode string, extraCodes string, reference string) *Product {
	t.Helper()
	p := &Product{
		ProductId:         id,
		Name:              fmt.Sprintf("Product %d", id),
		MainCode:          mainCode,
		ExtraCodes:        extraCodes,
		ReferenceQuantity: dec(reference),
		RetailPrice:       dec("2.5"),
		Active:            true,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

// paperSheet creates an open, finalized sheet named name holding one enabled
// position per product, expected at the product's reference quantity.
func (f *fixture) paperSheet(t *testing.T, name string, products ...*Product) (*Sheet, []*SheetPosition) {
	t.Helper()
	sheet := &Sheet{
		CountId:   f.count.ID,
		Name:      name,
		Active:    true,
		MainCount: true,
		CreatedBy: f.user.ID,
		CreatedAt: timeNow(),
	}
	require.NoError(t, f.db.Create(sheet).Error)
	positions := make([]*SheetPosition, 0, len(products))
	for _, p := range products {
		sp := &SheetPosition{SheetId: sheet.ID, ProductId: p.ProductId, ExpectedQuantity: p.ReferenceQuantity}
		require.NoError(t, f.db.Create(sp).Error)
		positions = append(positions, sp)
	}
	return sheet, positions
}

func (f *fixture) reload(t *testing.T, sheetId int) *Sheet {
	t.Helper()
	sheet, err := getSheet(f.ctx, f.db, sheetId)
	require.NoError(t, err)
	return sheet
}

func (f *fixture) importsOf(t *testing.T, sheetId int, importType ImportType) []Import {
	t.Helper()
	var imports []Import
	require.NoError(t, f.db.Preload("Positions").
		Where("sheet_id = ? AND type = ?", sheetId, importType).
		Order("id").Find(&imports).Error)
	return imports
}

func (f *fixture) delta(t *testing.T, sp *SheetPosition) Delta {
	t.Helper()
	entries, err := loadCountEntries(f.ctx, f.db, []int{sp.ID})
	require.NoError(t, err)
	return ComputeDelta(sp.ExpectedQuantity, entries[sp.ID])
}

func deviceUpload(name string, lines ...string) DeviceFileUpload {
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	return DeviceFileUpload{FileName: name, Content: []byte(content)}
}
