package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

type stubDocuments struct {
	key string
	err error
	ids []int
}

func (s *stubDocuments) Generate(ctx context.Context, sheetId int) (string, error) {
	s.ids = append(s.ids, sheetId)
	return s.key, s.err
}

type stubPrinter struct {
	calls []string
}

func (s *stubPrinter) Print(ctx context.Context, printer string, filePath string) PrintResult {
	s.calls = append(s.calls, printer+":"+filePath)
	return PrintResult{Success: false, Printer: printer, Message: "out of paper"}
}

func TestCreateTempSheet_ClassifiesProducts(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	fresh := f.product(t, 1, "111", "", "3")
	inactive := f.product(t, 2, "222", "", "3")
	require.NoError(t, f.db.Model(inactive).Update("active", false).Error)
	used := f.product(t, 3, "333", "", "3")
	existing, _ := f.paperSheet(t, "A251016001", used)

	result, err := CreateTempSheet(f.ctx, []int{1, 2, 3, 4, 1}, f.count.ID, f.user.ID)
	require.NoError(t, err)
	require.True(t, result.CreatedSheet)
	require.Len(t, result.Passed, 1)
	assert.Equal(t, fresh.ProductId, result.Passed[0].ProductId)
	require.Len(t, result.NotActive, 1)
	assert.Equal(t, 2, result.NotActive[0].ProductId)
	require.Len(t, result.Used, 1)
	assert.Equal(t, existing.ID, result.Used[0].SheetId)
	assert.Equal(t, []int{4}, result.NotFound)

	sheet := f.reload(t, result.Sheet.ID)
	assert.Equal(t, SheetStateDraft, sheet.State())
	assert.Equal(t, "Temporary Sheet - 2", sheet.Name)
	positions, err := sheetPositions(f.ctx, f.db, sheet.ID, false)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, dec("3").Equal(positions[0].ExpectedQuantity))
}

func TestCreateTempSheet_NothingToAdd(t *testing.T) {
	f := newFixture(t)
	result, err := CreateTempSheet(f.ctx, []int{42}, f.count.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, result.CreatedSheet)
	assert.Nil(t, result.Sheet)

	var sheets int64
	require.NoError(t, f.db.Model(&Sheet{}).Count(&sheets).Error)
	assert.Zero(t, sheets)
}

func TestFinalizeSheet_NamesSheetAndDeliversOutput(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	f.product(t, 1, "111", "", "3")
	f.product(t, 2, "222", "", "3")

	docs := &stubDocuments{key: "documents/1/sheet.xlsx"}
	printer := &stubPrinter{}
	out := SheetOutput{Documents: docs, Printer: printer, PrinterName: "office"}

	first, err := CreateTempSheet(f.ctx, []int{1}, f.count.ID, f.user.ID)
	require.NoError(t, err)
	second, err := CreateTempSheet(f.ctx, []int{2}, f.count.ID, f.user.ID)
	require.NoError(t, err)

	res, err := FinalizeSheet(f.ctx, first.Sheet.ID, "a", f.user.ID, out)
	require.NoError(t, err)
	assert.Equal(t, "A251016001", res.Sheet.Name)
	assert.Equal(t, SheetStateOpen, res.Sheet.State())
	assert.EqualValues(t, 1, res.Positions)
	assert.Equal(t, "documents/1/sheet.xlsx", res.Output.DocumentPath)
	require.NotNil(t, res.Output.Print)
	assert.False(t, res.Output.Print.Success)
	assert.Equal(t, []string{"office:documents/1/sheet.xlsx"}, printer.calls)

	res, err = FinalizeSheet(f.ctx, second.Sheet.ID, "A", f.user.ID, SheetOutput{})
	require.NoError(t, err)
	assert.Equal(t, "A251016002", res.Sheet.Name)

	_, err = FinalizeSheet(f.ctx, first.Sheet.ID, "A", f.user.ID, out)
	require.Error(t, err)
	assert.True(t, utils.IsNotFound(err))
	assert.True(t, errors.Is(err, ErrSheetNotTemporary))
}

func TestFinalizeSheet_DocumentFailureKeepsCommit(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	f.product(t, 1, "111", "", "3")
	draft, err := CreateTempSheet(f.ctx, []int{1}, f.count.ID, f.user.ID)
	require.NoError(t, err)

	docs := &stubDocuments{err: errors.New("disk full")}
	res, err := FinalizeSheet(f.ctx, draft.Sheet.ID, "C", f.user.ID, SheetOutput{Documents: docs})
	require.NoError(t, err)
	assert.Contains(t, res.Output.DocumentError, "disk full")
	assert.Equal(t, "C251016001", f.reload(t, draft.Sheet.ID).Name)
}

func TestFinalizeSheet_RejectsBadLetter(t *testing.T) {
	f := newFixture(t)
	_, err := FinalizeSheet(f.ctx, 1, "AB", f.user.ID, SheetOutput{})
	assert.True(t, utils.IsValidation(err))
}

func TestCloseSheet_Twice(t *testing.T) {
	f := newFixture(t)
	apple := f.product(t, 1, "111", "", "10")
	sheet, _ := f.paperSheet(t, "A251016001", apple)

	closed, err := CloseSheet(f.ctx, sheet.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, SheetStateClosed, closed.State())
	require.NotNil(t, closed.ClosedBy)
	assert.Equal(t, f.user.ID, *closed.ClosedBy)

	_, err = CloseSheet(f.ctx, sheet.ID, f.other.ID)
	require.Error(t, err)
	assert.True(t, utils.IsNotFound(err))
	assert.True(t, errors.Is(err, ErrSheetAlreadyClosed))

	markers := f.importsOf(t, sheet.ID, ImportTypeCloseMarker)
	require.Len(t, markers, 1)
	assert.Equal(t, DeviceNameClose, markers[0].DeviceName)
	assert.Empty(t, markers[0].Positions)
}

func TestRunSheetTransition_StaleStateIsConflict(t *testing.T) {
	f := newFixture(t)
	sheet, _ := f.paperSheet(t, "A251016001")
	_, err := CloseSheet(f.ctx, sheet.ID, f.user.ID)
	require.NoError(t, err)

	built := false
	err = runSheetTransition(f.ctx, f.db, sheet.ID, (*Sheet).canClose, func(tx *gorm.DB, s *Sheet) (*changeSet, error) {
		built = true
		return newChangeSet(f.user.ID), nil
	})
	require.Error(t, err)
	assert.False(t, built)
	assert.True(t, utils.IsConflict(err))
	assert.True(t, errors.Is(err, ErrSheetAlreadyClosed))
}

func TestSignSheet_AfterDeltaEdit(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)
	apple := f.product(t, 1, "111", "", "10")
	sheet, positions := f.paperSheet(t, "A251016001", apple)
	sp := positions[0]

	_, err := ImportDeviceFiles(f.ctx, f.store, []DeviceFileUpload{deviceUpload("A-1.txt",
		"Apple,111,7,1.00,A251016001",
	)}, f.count.ID, f.user.ID)
	require.NoError(t, err)

	card, err := ChangeDelta(f.ctx, ChangeDeltaInput{ProductId: 1, Shelf: dec("12"), CountId: f.count.ID}, f.user.ID)
	require.NoError(t, err)
	assert.True(t, card.IsInSheet)
	assert.True(t, dec("2").Equal(card.Quantity.Delta), "delta %s", card.Quantity.Delta)
	assert.True(t, dec("12").Equal(card.Quantity.Shelf))

	_, err = SignSheet(f.ctx, sheet.ID, SignSheetInput{Positions: []SignPosition{
		{SheetPositionId: sp.ID, OnShelf: dec("12"), OnPcMarket: dec("10")},
	}}, f.other.ID)
	require.NoError(t, err)

	signedSheet := f.reload(t, sheet.ID)
	assert.Equal(t, SheetStateSigned, signedSheet.State())
	require.NotNil(t, signedSheet.SigningBy)
	assert.Equal(t, f.other.ID, *signedSheet.SigningBy)

	corrections := f.importsOf(t, sheet.ID, ImportTypeCorrection)
	require.Len(t, corrections, 1)
	require.Len(t, corrections[0].Positions, 1)
	assert.True(t, dec("12").Equal(corrections[0].Positions[0].Quantity))
	assert.True(t, dec("10").Equal(corrections[0].Positions[0].ExpectedQuantity))

	var enabled []ImportPosition
	require.NoError(t, f.db.Where("sheet_position_id = ? AND is_disabled = ?", sp.ID, false).Find(&enabled).Error)
	require.Len(t, enabled, 1)
	assert.Equal(t, corrections[0].Positions[0].ID, enabled[0].ID)

	d := f.delta(t, sp)
	assert.True(t, dec("2").Equal(d.Delta), "delta %s", d.Delta)

	_, err = ChangeDelta(f.ctx, ChangeDeltaInput{ProductId: 1, Shelf: dec("1"), CountId: f.count.ID}, f.user.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSheetAlreadySigned))

	_, err = RemoveSheet(f.ctx, sheet.ID, f.user.ID)
	assert.True(t, errors.Is(err, ErrSheetAlreadySigned))
}

func TestSignSheet_Preconditions(t *testing.T) {
	f := newFixture(t)
	apple := f.product(t, 1, "111", "", "10")
	sheet, positions := f.paperSheet(t, "A251016001", apple)
	other, otherPositions := f.paperSheet(t, "A251016002", apple)

	_, err := SignSheet(f.ctx, sheet.ID, SignSheetInput{}, f.user.ID)
	assert.True(t, errors.Is(err, ErrSheetNotClosed))

	_, err = CloseSheet(f.ctx, sheet.ID, f.user.ID)
	require.NoError(t, err)

	_, err = SignSheet(f.ctx, sheet.ID, SignSheetInput{Positions: []SignPosition{
		{SheetPositionId: positions[0].ID, OnShelf: dec("-1")},
	}}, f.user.ID)
	assert.True(t, utils.IsValidation(err))

	_, err = SignSheet(f.ctx, sheet.ID, SignSheetInput{Positions: []SignPosition{
		{SheetPositionId: positions[0].ID, OnShelf: dec("1")},
		{SheetPositionId: positions[0].ID, OnShelf: dec("2")},
	}}, f.user.ID)
	assert.True(t, utils.IsValidation(err))

	_, err = SignSheet(f.ctx, sheet.ID, SignSheetInput{Positions: []SignPosition{
		{SheetPositionId: otherPositions[0].ID, OnShelf: dec("1")},
	}}, f.user.ID)
	assert.True(t, errors.Is(err, ErrPositionNotOnSheet))
	assert.Nil(t, f.reload(t, sheet.ID).SigningAt)
	assert.Empty(t, f.importsOf(t, sheet.ID, ImportTypeCorrection))
	assert.Nil(t, f.reload(t, other.ID).ClosedAt)

	_, err = SignSheet(f.ctx, sheet.ID, SignSheetInput{}, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, f.importsOf(t, sheet.ID, ImportTypeCorrection), 1)

	_, err = SignSheet(f.ctx, sheet.ID, SignSheetInput{}, f.user.ID)
	assert.True(t, errors.Is(err, ErrSheetAlreadySigned))
}

func TestRemoveSheet_AuthorOnly(t *testing.T) {
	f := newFixture(t)
	sheet, _ := f.paperSheet(t, "A251016001")

	_, err := RemoveSheet(f.ctx, sheet.ID, f.other.ID)
	assert.True(t, errors.Is(err, ErrSheetNotAuthor))

	removed, err := RemoveSheet(f.ctx, sheet.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, SheetStateRemoved, removed.State())
	assert.False(t, removed.Active)

	_, err = RemoveSheet(f.ctx, sheet.ID, f.user.ID)
	assert.True(t, errors.Is(err, ErrSheetAlreadyRemoved))

	_, err = CloseSheet(f.ctx, sheet.ID, f.user.ID)
	assert.True(t, errors.Is(err, ErrSheetAlreadyRemoved))
}

func TestCreateDynamicSheet_LetterIsExclusive(t *testing.T) {
	f := newFixture(t)
	freezeClock(t, importDay)

	first, err := CreateDynamicSheet(f.ctx, "c", f.count.ID, f.user.ID, SheetOutput{})
	require.NoError(t, err)
	assert.Equal(t, "251016001C", first.Sheet.Name)
	assert.True(t, first.Sheet.Dynamic)

	_, err = CreateDynamicSheet(f.ctx, "C", f.count.ID, f.other.ID, SheetOutput{})
	assert.True(t, errors.Is(err, ErrDynamicLetterInUse))

	letters, err := DynamicLetterAvailability(f.ctx)
	require.NoError(t, err)
	assert.False(t, letters["C"])
	assert.True(t, letters["A"])

	_, err = CloseSheet(f.ctx, first.Sheet.ID, f.user.ID)
	require.NoError(t, err)

	second, err := CreateDynamicSheet(f.ctx, "C", f.count.ID, f.other.ID, SheetOutput{})
	require.NoError(t, err)
	assert.Equal(t, "251016002C", second.Sheet.Name)

	_, err = CreateDynamicSheet(f.ctx, "Z", f.count.ID, f.user.ID, SheetOutput{})
	assert.True(t, utils.IsValidation(err))
}

func TestTransitions_RequireActiveUser(t *testing.T) {
	f := newFixture(t)
	sheet, _ := f.paperSheet(t, "A251016001")
	require.NoError(t, f.db.Model(f.other).Update("is_active", false).Error)

	_, err := CloseSheet(f.ctx, sheet.ID, f.other.ID)
	assert.True(t, errors.Is(err, ErrUserNotFound))
	_, err = CloseSheet(f.ctx, sheet.ID, 0)
	assert.True(t, utils.IsValidation(err))
	assert.Nil(t, f.reload(t, sheet.ID).ClosedAt)
}
