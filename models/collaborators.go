package models

import (
	"context"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// DocumentGenerator renders the printable count document of a sheet and
// returns where it was stored.
type DocumentGenerator interface {
	Generate(ctx context.Context, sheetId int) (string, error)
}

type PrintResult struct {
	Success bool   `json:"success"`
	Printer string `json:"printer"`
	Message string `json:"message"`
}

type PrintDispatcher interface {
	Print(ctx context.Context, printer string, filePath string) PrintResult
}

// SheetOutput is the best-effort document and print step run after a sheet
// got its name. Either part may be nil.
type SheetOutput struct {
	Documents DocumentGenerator
	Printer   PrintDispatcher
	// PrinterName is the print target, usually config.DefaultPrinter().
	PrinterName string
}

type OutputReport struct {
	DocumentPath  string       `json:"document_path,omitempty"`
	DocumentError string       `json:"document_error,omitempty"`
	Print         *PrintResult `json:"print,omitempty"`
}

// deliver never fails the caller. Failures are logged and reported.
func (o SheetOutput) deliver(ctx context.Context, sheetId int) OutputReport {
	logger := config.GetLogger()
	var report OutputReport
	if o.Documents == nil {
		return report
	}
	path, err := o.Documents.Generate(ctx, sheetId)
	if err != nil {
		err = utils.NewCollaboratorError(err, "document generation failed for sheet %d", sheetId)
		logger.WithFields(logrus.Fields{"sheet_id": sheetId}).Warn(err.Error())
		report.DocumentError = err.Error()
		return report
	}
	report.DocumentPath = path
	if o.Printer == nil || o.PrinterName == "" {
		return report
	}
	result := o.Printer.Print(ctx, o.PrinterName, path)
	if !result.Success {
		logger.WithFields(logrus.Fields{"sheet_id": sheetId, "printer": o.PrinterName}).Warnf("print failed: %s", result.Message)
	}
	report.Print = &result
	return report
}
