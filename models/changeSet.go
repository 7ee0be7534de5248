package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// countLine is a pending import position. The sheet position is referenced by
// pointer so positions created by the same change set get their id first.
type countLine struct {
	sheetPosition *SheetPosition
	quantity      decimal.Decimal
	expected      decimal.Decimal
}

type importDraft struct {
	imp   *Import
	lines []countLine
}

type sheetUpdate struct {
	sheetId int
	values  map[string]interface{}
}

// changeSet collects every write of one transition. apply runs them in a
// fixed order inside the caller's transaction:
// supersede, create positions, create imports, update sheets.
type changeSet struct {
	at        time.Time
	userId    int
	supersede []int
	positions []*SheetPosition
	imports   []*importDraft
	sheets    []sheetUpdate
}

func newChangeSet(userId int) *changeSet {
	return &changeSet{at: timeNow(), userId: userId}
}

// supersedePositions disables every enabled import position of the given
// sheet positions before the new counts are inserted.
func (cs *changeSet) supersedePositions(sheetPositionIds ...int) {
	cs.supersede = append(cs.supersede, sheetPositionIds...)
}

func (cs *changeSet) createPosition(sp *SheetPosition) *SheetPosition {
	cs.positions = append(cs.positions, sp)
	return sp
}

func (cs *changeSet) addImport(sheetId int, importType ImportType, deviceName string) *importDraft {
	draft := &importDraft{imp: &Import{
		SheetId:    sheetId,
		AuthorId:   cs.userId,
		ImportedAt: cs.at,
		DeviceName: deviceName,
		IsDisabled: false,
		Type:       importType,
	}}
	cs.imports = append(cs.imports, draft)
	return draft
}

func (d *importDraft) add(sp *SheetPosition, quantity, expected decimal.Decimal) {
	d.lines = append(d.lines, countLine{sheetPosition: sp, quantity: quantity, expected: expected})
}

func (cs *changeSet) updateSheet(sheetId int, values map[string]interface{}) {
	cs.sheets = append(cs.sheets, sheetUpdate{sheetId: sheetId, values: values})
}

func (cs *changeSet) closeSheet(sheetId int) {
	cs.updateSheet(sheetId, map[string]interface{}{"closed_at": cs.at, "closed_by": cs.userId})
}

func (cs *changeSet) apply(tx *gorm.DB) error {
	if len(cs.supersede) > 0 {
		err := tx.Model(&ImportPosition{}).
			Where("sheet_position_id IN ? AND is_disabled = ?", cs.supersede, false).
			Updates(map[string]interface{}{
				"is_disabled": true,
				"disabled_at": cs.at,
				"disabled_by": cs.userId,
				"last_change": cs.at,
			}).Error
		if err != nil {
			return err
		}
	}

	if len(cs.positions) > 0 {
		if err := tx.Create(cs.positions).Error; err != nil {
			return err
		}
	}

	for _, draft := range cs.imports {
		if err := tx.Omit("Positions").Create(draft.imp).Error; err != nil {
			return err
		}
		if len(draft.lines) == 0 {
			continue
		}
		rows := make([]ImportPosition, 0, len(draft.lines))
		for _, line := range draft.lines {
			rows = append(rows, ImportPosition{
				ImportId:         draft.imp.ID,
				SheetPositionId:  line.sheetPosition.ID,
				ExpectedQuantity: line.expected,
				Quantity:         line.quantity,
				IsDisabled:       false,
				LastChange:       cs.at,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		draft.imp.Positions = rows
	}

	for _, u := range cs.sheets {
		if err := tx.Model(&Sheet{}).Where("id = ?", u.sheetId).Updates(u.values).Error; err != nil {
			return err
		}
	}
	return nil
}
