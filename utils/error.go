package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type ErrorKind int

const (
	// KindValidation: the input is malformed; nothing was attempted.
	KindValidation ErrorKind = iota + 1
	// KindNotFound: a referenced row is missing or is in the wrong state.
	KindNotFound
	// KindConflict: the state changed under a running transaction; retry after re-fetching.
	KindConflict
	// KindCollaborator: a best-effort side effect (document, print) failed.
	KindCollaborator
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCollaborator:
		return "collaborator"
	}
	return "unknown"
}

// AppError carries the error kind the HTTP layer maps to a status, plus the
// offending fields for validation failures.
type AppError struct {
	Kind    ErrorKind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		if msg == "" {
			msg = "invalid input"
		}
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewValidationError(fields map[string]string) error {
	return &AppError{Kind: KindValidation, Message: "invalid input", Fields: fields}
}

// NewFieldError is a validation error for a single field.
func NewFieldError(field string, reason string) error {
	return NewValidationError(map[string]string{field: reason})
}

// NewNotFoundError wraps err (usually a domain sentinel) so errors.Is keeps working.
func NewNotFoundError(err error, format string, args ...any) error {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewConflictError(err error, format string, args ...any) error {
	return &AppError{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewCollaboratorError(err error, format string, args ...any) error {
	return &AppError{Kind: KindCollaborator, Message: fmt.Sprintf(format, args...), Err: err}
}

func KindOf(err error) (ErrorKind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return 0, false
}

func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}

func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

func IsConflict(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindConflict
}

// MapDBError turns driver level failures that mean "somebody else got there
// first" into conflicts. Everything else is returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return NewConflictError(err, "concurrent modification, please retry")
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213:
			return NewConflictError(err, "concurrent modification, please retry")
		case 1062:
			return NewConflictError(err, "duplicate entry, please retry")
		}
	}
	return err
}
