package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepImports(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	apple := f.product(t, 1, "111", "", "10")
	pear := f.product(t, 2, "222", "", "4")
	kept, _ := f.paperSheet(t, "A251016001", apple)
	marked, _ := f.paperSheet(t, "A251016002")
	dropped, _ := f.paperSheet(t, "A251016003", pear)

	_, err := ImportDeviceFiles(f.ctx, f.store, []DeviceFileUpload{deviceUpload("A-1.txt",
		"Apple,111,7,1,A251016001",
		"Pear,222,3,1,A251016003",
	)}, f.count.ID, f.user.ID)
	require.NoError(t, err)
	_, err = CloseSheet(f.ctx, marked.ID, f.user.ID)
	require.NoError(t, err)
	_, err = RemoveSheet(f.ctx, dropped.ID, f.user.ID)
	require.NoError(t, err)

	stats, err := SweepImports(f.ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, stats.Total(), "nothing is older than the grace period yet")

	freezeClock(t, importDay.Add(time.Hour))
	stats, err = SweepImports(f.ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{StalePositions: 1, StaleImports: 1, EmptyImports: 1}, stats)

	for _, imp := range f.importsOf(t, dropped.ID, ImportTypeDevice) {
		assert.True(t, imp.IsDisabled)
		for _, ip := range imp.Positions {
			assert.True(t, ip.IsDisabled)
		}
	}
	markers := f.importsOf(t, marked.ID, ImportTypeCloseMarker)
	require.Len(t, markers, 1)
	assert.True(t, markers[0].IsDisabled)

	live := f.importsOf(t, kept.ID, ImportTypeDevice)
	require.Len(t, live, 1)
	assert.False(t, live[0].IsDisabled)

	stats, err = SweepImports(f.ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, stats.Total())

	require.NoError(t, f.db.Model(&Import{}).Where("id = ?", live[0].ID).Update("is_disabled", true).Error)
	stats, err = SweepImports(f.ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{OrphanedPositions: 1}, stats)

	var enabled int64
	require.NoError(t, f.db.Model(&ImportPosition{}).Where("is_disabled = ?", false).Count(&enabled).Error)
	assert.Zero(t, enabled)
}
