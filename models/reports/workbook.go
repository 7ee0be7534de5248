package reports

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// workbook is a single sheet excel file with a styled header row.
type workbook struct {
	f     *excelize.File
	sheet string
	row   int
}

func newWorkbook(sheetName string) (*workbook, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if sheetName != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(index)
	return &workbook{f: f, sheet: sheetName}, nil
}

func (w *workbook) close() {
	_ = w.f.Close()
}

// line writes values into the next row, starting at column A.
func (w *workbook) line(values ...interface{}) error {
	w.row++
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if err := w.f.SetCellValue(w.sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}

// header writes a bold bordered row and freezes everything above the next one.
func (w *workbook) header(titles ...string) error {
	style, err := w.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	values := make([]interface{}, len(titles))
	for i, t := range titles {
		values[i] = t
	}
	if err := w.line(values...); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, w.row)
	last, _ := excelize.CoordinatesToCellName(len(titles), w.row)
	if err := w.f.SetCellStyle(w.sheet, first, last, style); err != nil {
		return err
	}
	topLeft, _ := excelize.CoordinatesToCellName(1, w.row+1)
	return w.f.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      w.row,
		TopLeftCell: topLeft,
		ActivePane:  "bottomLeft",
	})
}

func (w *workbook) widths(widths ...float64) error {
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.f.SetColWidth(w.sheet, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

func (w *workbook) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
