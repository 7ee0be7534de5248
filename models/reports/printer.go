package reports

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

const printTimeout = 30 * time.Second

// runFunc runs a command with stdin and returns its combined output.
type runFunc func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

func execRun(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	return cmd.CombinedOutput()
}

// SpoolPrinter sends stored documents to a CUPS queue through lp. It
// implements models.PrintDispatcher.
type SpoolPrinter struct {
	Store   utils.BlobStore
	Command string
	run     runFunc
}

func NewSpoolPrinter(store utils.BlobStore) *SpoolPrinter {
	return &SpoolPrinter{Store: store, Command: config.PrintCommand(), run: execRun}
}

func (p *SpoolPrinter) Print(ctx context.Context, printer string, filePath string) models.PrintResult {
	result := models.PrintResult{Printer: printer}
	data, err := p.Store.Get(ctx, filePath)
	if err != nil {
		result.Message = "cannot read document: " + err.Error()
		return result
	}
	ctx, cancel := context.WithTimeout(ctx, printTimeout)
	defer cancel()

	args := []string{"-d", printer, "-t", filePath}
	out, err := p.run(ctx, p.Command, args, data)
	msg := strings.TrimSpace(string(out))
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		result.Message = msg
		return result
	}
	result.Success = true
	result.Message = msg
	return result
}
