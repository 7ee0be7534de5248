package models

import "errors"

// Each sentinel names the invariant that blocked an operation. They are
// returned wrapped in a utils.AppError so the kind and the reason both survive.
var (
	ErrUserNotFound        = errors.New("user not found or inactive")
	ErrCountNotFound       = errors.New("count not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrSheetNotFound       = errors.New("sheet not found")
	ErrSheetAlreadyClosed  = errors.New("sheet already closed")
	ErrSheetNotClosed      = errors.New("sheet is not closed yet")
	ErrSheetAlreadySigned  = errors.New("sheet already signed")
	ErrSheetNotSigned      = errors.New("sheet is not signed yet")
	ErrSheetAlreadyRemoved = errors.New("sheet already removed")
	ErrSheetNotTemporary   = errors.New("sheet is not a temporary sheet")
	ErrSheetIsTemporary    = errors.New("sheet is still a temporary sheet")
	ErrSheetNotAuthor      = errors.New("only the author of the sheet can do this")
	ErrNoCountingPosition  = errors.New("no active counting position found")
	ErrPositionNotOnSheet  = errors.New("position does not belong to the sheet")
	ErrDynamicLetterInUse  = errors.New("an open dynamic sheet already uses this letter")
	ErrNoProductsToAdd     = errors.New("none of the products can be added to a sheet")
)
