package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// Sheet is one counting batch.
//
// Lifecycle: draft (Temporary) -> open -> closed (ClosedAt) -> signed
// (SigningAt). Removed (RemovedAt, Active=false) can be reached from every
// state before signed.
type Sheet struct {
	ID         int        `gorm:"primary_key" json:"id"`
	CountId    int        `gorm:"index;not null" json:"count_id"`
	Name       string     `gorm:"size:255;not null;index" json:"name"`
	NameLetter *string    `gorm:"size:1;uniqueIndex:idx_sheet_name_seq" json:"-"`
	NameDate   *string    `gorm:"size:6;uniqueIndex:idx_sheet_name_seq" json:"-"`
	Dynamic    bool       `gorm:"not null;uniqueIndex:idx_sheet_name_seq" json:"dynamic"`
	NameSeq    *int       `gorm:"uniqueIndex:idx_sheet_name_seq" json:"-"`
	Active     bool       `gorm:"not null;index" json:"active"`
	Temporary  bool       `gorm:"not null" json:"temporary"`
	MainCount  bool       `gorm:"not null" json:"main_count"`
	Comment    string     `gorm:"type:text" json:"comment"`
	CreatedBy  int        `gorm:"not null" json:"created_by"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at"`
	ClosedBy   *int       `json:"closed_by"`
	SigningAt  *time.Time `json:"signing_at"`
	SigningBy  *int       `json:"signing_by"`
	RemovedAt  *time.Time `json:"removed_at"`
	RemovedBy  *int       `json:"removed_by"`
}

// SheetPosition is one expected product on a sheet. ExpectedQuantity is the
// reference captured when the position was created.
type SheetPosition struct {
	ID               int             `gorm:"primary_key" json:"id"`
	SheetId          int             `gorm:"index;not null" json:"sheet_id"`
	ProductId        int             `gorm:"index;not null" json:"product_id"`
	ExpectedQuantity decimal.Decimal `gorm:"type:decimal(20,3);not null" json:"expected_quantity"`
	IsDisabled       bool            `gorm:"not null" json:"is_disabled"`
	Comment          string          `gorm:"type:text" json:"comment"`
}

// Import is one counting event on a sheet. Only IsDisabled ever changes after
// creation.
type Import struct {
	ID           int              `gorm:"primary_key" json:"id"`
	SheetId      int              `gorm:"index;not null" json:"sheet_id"`
	AuthorId     int              `gorm:"not null" json:"author_id"`
	ImportFileId *int             `gorm:"index" json:"import_file_id"`
	ImportedAt   time.Time        `gorm:"not null;index" json:"imported_at"`
	DeviceName   string           `gorm:"size:255;not null" json:"device_name"`
	IsDisabled   bool             `gorm:"not null" json:"is_disabled"`
	Type         ImportType       `gorm:"not null" json:"type"`
	Positions    []ImportPosition `gorm:"foreignKey:ImportId" json:"positions,omitempty"`
}

// ImportPosition is the counted quantity of one product within an import.
// ExpectedQuantity is frozen at write time.
type ImportPosition struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ImportId         int             `gorm:"index;not null" json:"import_id"`
	SheetPositionId  int             `gorm:"index;not null" json:"sheet_position_id"`
	ExpectedQuantity decimal.Decimal `gorm:"type:decimal(20,3);not null" json:"expected_quantity"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,3);not null" json:"quantity"`
	IsDisabled       bool            `gorm:"not null;index" json:"is_disabled"`
	LastChange       time.Time       `gorm:"not null" json:"last_change"`
	DisabledAt       *time.Time      `json:"disabled_at"`
	DisabledBy       *int            `json:"disabled_by"`
}

func (s *Sheet) IsRemoved() bool {
	return !s.Active || s.RemovedAt != nil
}

func (s *Sheet) State() SheetState {
	switch {
	case s.IsRemoved():
		return SheetStateRemoved
	case s.SigningAt != nil:
		return SheetStateSigned
	case s.ClosedAt != nil:
		return SheetStateClosed
	case s.Temporary:
		return SheetStateDraft
	default:
		return SheetStateOpen
	}
}

// canClose, canSign, canRemove, canFinalize and canEditDelta return the
// sentinel naming the violated precondition, or nil.

func (s *Sheet) canFinalize() error {
	if s.IsRemoved() {
		return ErrSheetAlreadyRemoved
	}
	if !s.Temporary {
		return ErrSheetNotTemporary
	}
	return nil
}

func (s *Sheet) canClose() error {
	if s.IsRemoved() {
		return ErrSheetAlreadyRemoved
	}
	if s.Temporary {
		return ErrSheetIsTemporary
	}
	if s.ClosedAt != nil {
		return ErrSheetAlreadyClosed
	}
	return nil
}

func (s *Sheet) canSign() error {
	if s.IsRemoved() {
		return ErrSheetAlreadyRemoved
	}
	if s.SigningAt != nil {
		return ErrSheetAlreadySigned
	}
	if s.ClosedAt == nil {
		return ErrSheetNotClosed
	}
	return nil
}

func (s *Sheet) canRemove(userId int) error {
	if s.IsRemoved() {
		return ErrSheetAlreadyRemoved
	}
	if s.SigningAt != nil {
		return ErrSheetAlreadySigned
	}
	if s.CreatedBy != userId {
		return ErrSheetNotAuthor
	}
	return nil
}

func (s *Sheet) canEditDelta() error {
	if s.IsRemoved() {
		return ErrSheetAlreadyRemoved
	}
	if s.SigningAt != nil {
		return ErrSheetAlreadySigned
	}
	return nil
}

// canReceiveImport is the device import precondition: open and not removed.
func (s *Sheet) canReceiveImport() error {
	if s.IsRemoved() {
		return ErrSheetAlreadyRemoved
	}
	if s.ClosedAt != nil {
		return ErrSheetAlreadyClosed
	}
	return nil
}

func getSheet(ctx context.Context, db *gorm.DB, sheetId int) (*Sheet, error) {
	if sheetId <= 0 {
		return nil, utils.NewFieldError("sheetId", "required")
	}
	var sheet Sheet
	err := db.WithContext(ctx).First(&sheet, sheetId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError(ErrSheetNotFound, "sheet %d not found", sheetId)
	}
	if err != nil {
		return nil, err
	}
	return &sheet, nil
}

// lockSheet re-reads the sheet inside tx with a row lock so two transitions on
// the same sheet serialize on the database.
func lockSheet(tx *gorm.DB, sheetId int) (*Sheet, error) {
	var sheet Sheet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sheet, sheetId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewConflictError(ErrSheetNotFound, "sheet %d disappeared", sheetId)
	}
	if err != nil {
		return nil, err
	}
	return &sheet, nil
}

func sheetPositions(ctx context.Context, db *gorm.DB, sheetId int, includeDisabled bool) ([]SheetPosition, error) {
	var positions []SheetPosition
	query := db.WithContext(ctx).Where("sheet_id = ?", sheetId)
	if !includeDisabled {
		query = query.Where("is_disabled = ?", false)
	}
	err := query.Order("product_id, id").Find(&positions).Error
	return positions, err
}
