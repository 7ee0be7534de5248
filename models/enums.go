package models

import (
	"errors"
	"strings"
)

// ImportType discriminates how a counting event came into being.
type ImportType int

const (
	ImportTypeDevice      ImportType = 1
	ImportTypeDeltaEdit   ImportType = 2
	ImportTypeCorrection  ImportType = 3
	ImportTypeCloseMarker ImportType = 4
	ImportTypeExport      ImportType = 5
)

func (t ImportType) String() string {
	switch t {
	case ImportTypeDevice:
		return "device"
	case ImportTypeDeltaEdit:
		return "delta_edit"
	case ImportTypeCorrection:
		return "correction"
	case ImportTypeCloseMarker:
		return "close"
	case ImportTypeExport:
		return "export"
	}
	return "unknown"
}

// device names of the system generated imports
const (
	DeviceNameClose      = "CLOSE"
	DeviceNameCorrection = "CORRECTION"
	DeviceNameDelta      = "DELTA"
	DeviceNameExport     = "EXPORT"
)

type SheetState string

const (
	SheetStateDraft   SheetState = "draft"
	SheetStateOpen    SheetState = "open"
	SheetStateClosed  SheetState = "closed"
	SheetStateSigned  SheetState = "signed"
	SheetStateRemoved SheetState = "removed"
)

// SheetListStatus is the filter accepted by ListSheets.
type SheetListStatus string

const (
	SheetListStatusOpen         SheetListStatus = "open"
	SheetListStatusToBeApproved SheetListStatus = "toBeApproved"
	SheetListStatusFinished     SheetListStatus = "finished"
)

func ParseSheetListStatus(s string) (SheetListStatus, error) {
	switch strings.TrimSpace(s) {
	case "open":
		return SheetListStatusOpen, nil
	case "toBeApproved":
		return SheetListStatusToBeApproved, nil
	case "finished":
		return SheetListStatusFinished, nil
	default:
		return "", errors.New("invalid sheet status")
	}
}

type SheetKind string

const (
	SheetKindPaper   SheetKind = "paper"
	SheetKindDynamic SheetKind = "dynamic"
)

// DynamicLetters are the device letters dynamic sheets can be opened for.
var DynamicLetters = []string{"A", "B", "C", "D", "E", "F", "G"}
