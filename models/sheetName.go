package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

const sheetNameDateLayout = "060102"

// sheetNameQuery reads the highest sequence used for a letter and day. It
// runs against idx_sheet_name_seq; the unique index also rejects two
// transactions that computed the same next value.
const sheetNameQuery = "SELECT COALESCE(MAX(name_seq), 0) FROM sheets WHERE name_letter = ? AND name_date = ? AND dynamic = ?"

// SheetName is the generated name of a finalized or dynamic sheet.
type SheetName struct {
	Letter  string
	Date    string
	Seq     int
	Dynamic bool
}

// String renders paper sheets as <letter><YYMMDD><seq> and dynamic sheets as
// <YYMMDD><seq><letter>.
func (n SheetName) String() string {
	if n.Dynamic {
		return fmt.Sprintf("%s%03d%s", n.Date, n.Seq, n.Letter)
	}
	return fmt.Sprintf("%s%s%03d", n.Letter, n.Date, n.Seq)
}

func normalizeLetter(letter string) (string, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		return "", utils.NewFieldError("letter", "must be a single letter A-Z")
	}
	return letter, nil
}

func isDynamicLetter(letter string) bool {
	for _, l := range DynamicLetters {
		if l == letter {
			return true
		}
	}
	return false
}

// nextSheetName reserves the next sequence number for letter on the day of at.
func nextSheetName(tx *gorm.DB, letter string, at time.Time, dynamic bool) (SheetName, error) {
	date := at.Format(sheetNameDateLayout)
	var maxSeq int
	if err := tx.Raw(sheetNameQuery, letter, date, dynamic).Scan(&maxSeq).Error; err != nil {
		return SheetName{}, err
	}
	return SheetName{Letter: letter, Date: date, Seq: maxSeq + 1, Dynamic: dynamic}, nil
}

func (n SheetName) columns() map[string]interface{} {
	return map[string]interface{}{
		"name":        n.String(),
		"name_letter": n.Letter,
		"name_date":   n.Date,
		"name_seq":    n.Seq,
		"dynamic":     n.Dynamic,
	}
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// classifySheetName decides how a sheet named name is counted by a device
// with the given letter. A name starting with the letter is a paper sheet,
// otherwise a name ending with it is a dynamic sheet.
func classifySheetName(name, letter string) (SheetKind, bool) {
	if lettersOnly(name) != letter {
		return "", false
	}
	switch {
	case strings.HasPrefix(name, letter):
		return SheetKindPaper, true
	case strings.HasSuffix(name, letter):
		return SheetKindDynamic, true
	}
	return "", false
}
