package models

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// ImportFile is the audit record of one uploaded device file. Its blobs are
// written before any counting logic runs.
type ImportFile struct {
	ID           int       `gorm:"primary_key" json:"id"`
	CountId      int       `gorm:"index;not null" json:"count_id"`
	FileName     string    `gorm:"size:255;not null" json:"file_name"`
	DeviceLetter string    `gorm:"size:1;not null" json:"device_letter"`
	RawPath      string    `gorm:"size:1024;not null" json:"raw_path"`
	ParsedPath   string    `gorm:"size:1024;not null" json:"parsed_path"`
	RowCount     int       `gorm:"not null" json:"row_count"`
	UploadedAt   time.Time `gorm:"not null" json:"uploaded_at"`
	UploadedBy   int       `gorm:"not null" json:"uploaded_by"`
}

// DeviceRow is one scan line: name,code,quantity,price,sheet.
type DeviceRow struct {
	Line     int             `json:"line"`
	Name     string          `json:"name"`
	Code     string          `json:"code"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Sheet    string          `json:"sheet"`
}

type DeviceFile struct {
	FileName string      `json:"file_name"`
	Letter   string      `json:"letter"`
	Raw      []byte      `json:"-"`
	Rows     []DeviceRow `json:"rows"`
}

const deviceFileFields = 5

// DeviceLetterFromFileName reads the letter of <letter>-<device>.txt.
func DeviceLetterFromFileName(fileName string) (string, error) {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	prefix, _, found := strings.Cut(base, "-")
	if !found {
		return "", utils.NewFieldError("fileName", fmt.Sprintf("%q does not start with <letter>-", base))
	}
	letter, err := normalizeLetter(prefix)
	if err != nil {
		return "", utils.NewFieldError("fileName", fmt.Sprintf("%q does not start with a single device letter", base))
	}
	return letter, nil
}

// ParseDeviceFile parses a headerless CSV scan dump. Any malformed line
// rejects the whole file.
func ParseDeviceFile(fileName string, content []byte) (*DeviceFile, error) {
	letter, err := DeviceLetterFromFileName(fileName)
	if err != nil {
		return nil, err
	}
	body := bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	file := &DeviceFile{FileName: fileName, Letter: letter, Raw: content, Rows: []DeviceRow{}}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, utils.NewFieldError(fileName, err.Error())
		}
		line, _ := reader.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != deviceFileFields {
			return nil, utils.NewFieldError(fileName, fmt.Sprintf("line %d: expected %d fields, got %d", line, deviceFileFields, len(record)))
		}
		qty, err := utils.ParseDecimal(record[2])
		if err != nil {
			return nil, utils.NewFieldError(fileName, fmt.Sprintf("line %d: quantity %q is not a number", line, record[2]))
		}
		price := decimal.Zero
		if strings.TrimSpace(record[3]) != "" {
			price, err = utils.ParseDecimal(record[3])
			if err != nil {
				return nil, utils.NewFieldError(fileName, fmt.Sprintf("line %d: price %q is not a number", line, record[3]))
			}
		}
		file.Rows = append(file.Rows, DeviceRow{
			Line:     line,
			Name:     strings.TrimSpace(record[0]),
			Code:     strings.TrimSpace(record[1]),
			Quantity: qty,
			Price:    price,
			Sheet:    strings.TrimSpace(record[4]),
		})
	}
	return file, nil
}

// archiveDeviceFile stores the raw and parsed file and records the audit row.
// It runs outside the counting transactions so the trail survives their
// failure.
func archiveDeviceFile(ctx context.Context, db *gorm.DB, store utils.BlobStore, file *DeviceFile, count *Count, userId int) (*ImportFile, error) {
	now := timeNow()
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(file.FileName, "\\", "/")), path.Ext(file.FileName))
	stem := fmt.Sprintf("imports/%d/%s/raw/%s_%s", count.ID, now.Format("2006-01-02"), base, utils.GenerateUniqueFilename())

	rawPath, err := store.Put(ctx, stem+".txt", file.Raw, "text/plain")
	if err != nil {
		return nil, fmt.Errorf("storing raw file %s: %w", file.FileName, err)
	}
	parsed, err := utils.MarshalToJSON(file.Rows)
	if err != nil {
		return nil, err
	}
	parsedPath, err := store.Put(ctx, stem+".json", []byte(parsed), "application/json")
	if err != nil {
		return nil, fmt.Errorf("storing parsed file %s: %w", file.FileName, err)
	}

	record := &ImportFile{
		CountId:      count.ID,
		FileName:     file.FileName,
		DeviceLetter: file.Letter,
		RawPath:      rawPath,
		ParsedPath:   parsedPath,
		RowCount:     len(file.Rows),
		UploadedAt:   now,
		UploadedBy:   userId,
	}
	if err := db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}
