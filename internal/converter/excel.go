package converter

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	MaxExcelRows    = 1048576
	MaxExcelColumns = 16384

	// Excel refuses longer text cells.
	maxCellChars = 32767

	progressEvery = 250
)

var (
	ErrEmptyDocument = errors.New("json document has no records")
	ErrTooManyRows   = errors.New("too many records for a single worksheet")
	ErrTooManyCols   = errors.New("too many columns for a single worksheet")
)

// ProgressFunc receives the number of records written so far.
type ProgressFunc func(done, total int)

type Summary struct {
	Records   int
	Columns   int
	SheetName string
}

func (s Summary) ToMap() map[string]any {
	return map[string]any{
		"records":    s.Records,
		"columns":    s.Columns,
		"sheet_name": s.SheetName,
	}
}

// Converter turns JSON documents into single sheet XLSX workbooks.
type Converter struct{}

func New() *Converter {
	return &Converter{}
}

func (c *Converter) Convert(
	ctx context.Context,
	data []byte,
	options domain.ConversionOptions,
	outputPath string,
	progress ProgressFunc,
) (Summary, error) {
	document, err := decodeDocument(data)
	if err != nil {
		return Summary{}, err
	}
	items := rowsOf(document)
	if len(items) == 0 {
		return Summary{}, ErrEmptyDocument
	}
	if len(items)+1 > MaxExcelRows {
		return Summary{}, fmt.Errorf("%w: %d records", ErrTooManyRows, len(items))
	}

	flattener := newFlattener(options)
	rows := make([]record, 0, len(items))
	headers := make([]string, 0)
	seen := make(map[string]struct{})
	for index, item := range items {
		if index%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Summary{}, err
			}
		}
		row, err := flattener.flattenItem(item)
		if err != nil {
			return Summary{}, fmt.Errorf("flatten record %d: %w", index, err)
		}
		for _, key := range row.keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			headers = append(headers, key)
		}
		rows = append(rows, row)
	}
	if len(headers) > MaxExcelColumns {
		return Summary{}, fmt.Errorf("%w: %d columns", ErrTooManyCols, len(headers))
	}

	if err := c.writeWorkbook(ctx, rows, headers, options, outputPath, progress); err != nil {
		_ = os.Remove(outputPath)
		return Summary{}, err
	}

	return Summary{
		Records:   len(rows),
		Columns:   len(headers),
		SheetName: options.SheetName,
	}, nil
}

func (c *Converter) writeWorkbook(
	ctx context.Context,
	rows []record,
	headers []string,
	options domain.ConversionOptions,
	outputPath string,
	progress ProgressFunc,
) error {
	workbook := excelize.NewFile()
	defer workbook.Close()

	if err := workbook.SetSheetName("Sheet1", options.SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	writer, err := workbook.NewStreamWriter(options.SheetName)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	rowNumber := 1
	if options.IncludeHeaders {
		headerRow := make([]any, len(headers))
		for index, header := range headers {
			headerRow[index] = header
		}
		var rowOpts []excelize.RowOpts
		if options.FormatHeaders {
			styleID, err := workbook.NewStyle(&excelize.Style{
				Font: &excelize.Font{Bold: true},
				Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
			})
			if err != nil {
				return fmt.Errorf("create header style: %w", err)
			}
			rowOpts = append(rowOpts, excelize.RowOpts{StyleID: styleID})
		}
		if err := writer.SetRow("A1", headerRow, rowOpts...); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		rowNumber++
	}

	for index, row := range rows {
		if index%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if progress != nil && index > 0 {
				progress(index, len(rows))
			}
		}

		values := make([]any, len(headers))
		for column, header := range headers {
			if value, ok := row.values[header]; ok {
				values[column] = limitCellText(value)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, rowNumber)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := writer.SetRow(cell, values); err != nil {
			return fmt.Errorf("write row %d: %w", rowNumber, err)
		}
		rowNumber++
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := workbook.SaveAs(outputPath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	if progress != nil {
		progress(len(rows), len(rows))
	}
	return nil
}

func limitCellText(value any) any {
	text, ok := value.(string)
	if !ok || len(text) <= maxCellChars {
		return value
	}
	runes := []rune(text)
	if len(runes) <= maxCellChars {
		return value
	}
	return string(runes[:maxCellChars])
}
