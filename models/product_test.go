package models

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestNormalizeCode(t *testing.T) {
	tests := map[string]string{
		"123-456":    "123456",
		"12?34?56":   "123456",
		" 0042 ":     "0042",
		"ABC":        "",
		"":           "",
		"5 901 234":  "5901234",
		"٣٤ unicode": "",
	}
	for in, want := range tests {
		got := NormalizeCode(in)
		assert.Equal(t, want, got, "NormalizeCode(%q)", in)
		assert.Equal(t, got, NormalizeCode(got), "normalizing twice changed %q", in)
	}
}

func TestResolveCodes_LowestProductWins(t *testing.T) {
	products := []*Product{
		{ProductId: 20, MainCode: "123-456"},
		{ProductId: 10, MainCode: "999", ExtraCodes: "123 456;777"},
		{ProductId: 30, MainCode: "555"},
	}
	resolved := ResolveCodes(products, []string{"12?34?56", "777", "555", "000"})
	assert.Equal(t, map[string]int{"123456": 10, "777": 10, "555": 30}, resolved)
}

func TestFindProductsByNormalizedCodes(t *testing.T) {
	f := newFixture(t)
	f.product(t, 1, "123-456", "", "1")
	f.product(t, 2, "777", "123.456", "1")
	f.product(t, 3, "888", "", "1")

	products, err := FindProductsByNormalizedCodes(f.ctx, f.db, []string{"777"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 2, products[0].ProductId)

	n, err := SyncCatalogCodes(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	products, err = FindProductsByNormalizedCodes(f.ctx, f.db, []string{"12-34-56", "abc"})
	require.NoError(t, err)
	ids := make([]int, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ProductId)
	}
	assert.Equal(t, []int{1, 2}, ids)

	products, err = FindProductsByNormalizedCodes(f.ctx, f.db, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestFindProductsByNormalizedCodes_WithoutIndex(t *testing.T) {
	f := newFixture(t)
	f.product(t, 42, "12?34?56", "", "1")
	f.product(t, 43, "500", "7777;8888", "1")
	f.product(t, 44, "1234560", "88-88-1", "1")

	codes := []string{"123-456", "8888"}
	products, err := FindProductsByNormalizedCodes(f.ctx, f.db, codes)
	require.NoError(t, err)
	ids := make([]int, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ProductId)
	}
	assert.Equal(t, []int{42, 43}, ids)
	assert.Equal(t, map[string]int{"123456": 42, "8888": 43}, ResolveCodes(products, codes))

	var indexed int64
	require.NoError(t, f.db.Model(&ProductCode{}).Count(&indexed).Error)
	assert.Zero(t, indexed)
}

func TestDigitPattern(t *testing.T) {
	assert.Equal(t, "%1%2%3%", digitPattern("123"))
	assert.Equal(t, "%", digitPattern(""))
}

func TestSyncCatalogCodes_Rebuilds(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 1, "100", "200;300", "1")

	_, err := SyncCatalogCodes(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(p).Update("extra_codes", "").Error)
	n, err := SyncCatalogCodes(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var codes []ProductCode
	require.NoError(t, f.db.Find(&codes).Error)
	require.Len(t, codes, 1)
	assert.Equal(t, "100", codes[0].Code)
	assert.True(t, codes[0].IsMain)
}

func TestNextSheetName_ReadsMaxSequence(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(sheetNameQuery)).
		WithArgs("A", "251016", false).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta(sheetNameQuery)).
		WithArgs("B", "251016", true).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(0))

	name, err := nextSheetName(gdb, "A", importDay, false)
	require.NoError(t, err)
	assert.Equal(t, "A251016005", name.String())

	name, err = nextSheetName(gdb, "B", importDay, true)
	require.NoError(t, err)
	assert.Equal(t, "251016001B", name.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifySheetName(t *testing.T) {
	tests := []struct {
		name   string
		letter string
		kind   SheetKind
		ok     bool
	}{
		{"A251016001", "A", SheetKindPaper, true},
		{"251016001A", "A", SheetKindDynamic, true},
		{"251016001B", "A", "", false},
		{"AB251016", "A", "", false},
		{"Temporary Sheet - 1", "T", "", false},
		{"", "A", "", false},
	}
	for _, tt := range tests {
		kind, ok := classifySheetName(tt.name, tt.letter)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.kind, kind, tt.name)
	}
}
