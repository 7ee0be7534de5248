package models

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderExportCSV(t *testing.T) {
	rows := []ExportRow{
		{ProductId: 1, MainCode: "0001", Counted: dec("12")},
		{ProductId: 7, MainCode: "123456", Counted: dec("7.5")},
		{ProductId: 3, MainCode: "4000", Counted: dec("0.1254")},
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export_csv", RenderExportCSV(rows))
}

func TestExportCount_SignedDiscrepanciesOnce(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	p1 := f.product(t, 1, "0001", "", "10")
	p2 := f.product(t, 2, "", "", "5")
	p3 := f.product(t, 3, "333", "", "4")
	s1, s1Positions := f.paperSheet(t, "A251016001", p1, p2)
	s2, _ := f.paperSheet(t, "A251016002", p1, p3)
	s3, _ := f.paperSheet(t, "A251016003", p3)

	_, err := ImportDeviceFiles(f.ctx, f.store, []DeviceFileUpload{deviceUpload("A-1.txt",
		"One,0001,7,1,A251016001",
		"One,0001,2,1,A251016002",
		"Three,333,4,1,A251016002",
		"Three,333,1,1,A251016003",
	)}, f.count.ID, f.user.ID)
	require.NoError(t, err)

	_, err = SignSheet(f.ctx, s1.ID, SignSheetInput{Positions: []SignPosition{
		{SheetPositionId: s1Positions[0].ID, OnShelf: dec("7"), OnPcMarket: dec("10")},
		{SheetPositionId: s1Positions[1].ID, OnShelf: dec("3"), OnPcMarket: dec("5")},
	}}, f.user.ID)
	require.NoError(t, err)
	_, err = SignSheet(f.ctx, s2.ID, SignSheetInput{}, f.user.ID)
	require.NoError(t, err)

	result, err := ExportCount(f.ctx, f.store, f.count.ID, f.other.ID)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "0001", result.Rows[0].MainCode)
	assert.True(t, dec("9").Equal(result.Rows[0].Counted), "counted %s", result.Rows[0].Counted)
	assert.Equal(t, []int{2}, result.Unresolved)
	assert.Equal(t, "exports/1/export_20251016_093000.csv", result.Key)

	require.Len(t, result.Sheets, 2)
	for _, sr := range result.Sheets {
		assert.Empty(t, sr.Error)
		assert.Equal(t, 1, sr.Positions)
		require.NotNil(t, sr.ImportId)
	}
	assert.Empty(t, f.importsOf(t, s3.ID, ImportTypeExport))

	data, err := f.store.Get(f.ctx, result.Key)
	require.NoError(t, err)
	assert.Equal(t, "MainCode;Counted\n0001;9\n", string(data))

	d := f.delta(t, s1Positions[0])
	assert.True(t, d.Delta.IsZero(), "delta after export %s", d.Delta)
	exports := f.importsOf(t, s1.ID, ImportTypeExport)
	require.Len(t, exports, 1)
	assert.Equal(t, DeviceNameExport, exports[0].DeviceName)

	freezeClock(t, importDay.Add(time.Hour))
	again, err := ExportCount(f.ctx, f.store, f.count.ID, f.other.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Rows)
	assert.Empty(t, again.Sheets)
	assert.Empty(t, again.Key)
	assert.Equal(t, []int{2}, again.Unresolved)

	list, err := ListExports(f.ctx, f.store, f.count.ID)
	require.NoError(t, err)
	assert.Equal(t, "exports/1/", list.BasePath)
	assert.Equal(t, []string{"export_20251016_093000.csv"}, list.Files)
}

func TestExportSheet_StaleCandidatesAreRechecked(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	p1 := f.product(t, 1, "0001", "", "10")
	sheet, positions := f.paperSheet(t, "A251016001", p1)

	_, err := ImportDeviceFiles(f.ctx, f.store, []DeviceFileUpload{deviceUpload("A-1.txt",
		"One,0001,7,1,A251016001",
	)}, f.count.ID, f.user.ID)
	require.NoError(t, err)
	_, err = SignSheet(f.ctx, sheet.ID, SignSheetInput{}, f.user.ID)
	require.NoError(t, err)

	bySheet, sheets, _, err := exportCandidates(f.ctx, f.db, f.count.ID)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	stale := bySheet[sheet.ID]
	require.Len(t, stale, 1)

	kept, importId, err := exportSheet(f.ctx, f.db, sheet.ID, stale, f.other.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.NotNil(t, importId)
	assert.True(t, dec("7").Equal(kept[0].counted), "counted %s", kept[0].counted)

	// a second run that read its candidates before the first one committed
	kept, importId, err = exportSheet(f.ctx, f.db, sheet.ID, stale, f.other.ID)
	require.NoError(t, err)
	assert.Empty(t, kept)
	assert.Nil(t, importId)

	assert.Len(t, f.importsOf(t, sheet.ID, ImportTypeExport), 1)
	var enabled int64
	require.NoError(t, f.db.Model(&ImportPosition{}).
		Where("sheet_position_id = ? AND is_disabled = ?", positions[0].ID, false).
		Count(&enabled).Error)
	assert.EqualValues(t, 1, enabled)
	assert.True(t, f.delta(t, positions[0]).Delta.IsZero())
}

func TestExportCount_RequiresCount(t *testing.T) {
	f := newFixture(t)
	_, err := ExportCount(f.ctx, f.store, 404, f.user.ID)
	assert.True(t, errors.Is(err, ErrCountNotFound))

	result, err := ExportCount(f.ctx, f.store, f.count.ID, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
	assert.Empty(t, result.Key)
}

func TestSnapshotCatalog(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	f.product(t, 1, "0001", "", "10")
	f.product(t, 2, "0002", "9;8", "5")

	snap, err := SnapshotCatalog(f.ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Products)

	raw, err := os.ReadFile(snap.Path)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)

	decoder := json.NewDecoder(bytes.NewReader(body))
	var ids []int
	for decoder.More() {
		var p Product
		require.NoError(t, decoder.Decode(&p))
		ids = append(ids, p.ProductId)
	}
	assert.Equal(t, []int{1, 2}, ids)
	assert.Contains(t, snap.Path, "sync/20251016/catalog_20251016_093000.jsonl.gz")
}
