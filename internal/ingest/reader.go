package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrMissingColumns    = errors.New("source is missing required columns")
	ErrUnsupportedFormat = errors.New("unsupported source format")
	ErrSheetNotFound     = errors.New("sheet not found")
)

// Stats describes what a read pass saw.
type Stats struct {
	RowsRead      int
	RowsDiscarded int
}

// ReadFile loads every usable record from an XLSX or CSV export. An empty
// sheet name selects the first sheet of a workbook.
func ReadFile(path, sheet string) ([]TransactionRecord, Stats, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err := readWorkbook(path, sheet)
		if err != nil {
			return nil, Stats{}, err
		}
		return normalizeRows(rows)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, Stats{}, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return ReadCSV(f)
	default:
		return nil, Stats{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ReadCSV loads records from a comma separated export. A leading UTF-8
// byte order mark is dropped.
func ReadCSV(r io.Reader) ([]TransactionRecord, Stats, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read csv: %w", err)
	}
	return normalizeRows(rows)
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	// Raw values keep dates as serial numbers and weights without
	// thousands separators.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func normalizeRows(rows [][]string) ([]TransactionRecord, Stats, error) {
	var stats Stats
	if len(rows) == 0 {
		return nil, stats, fmt.Errorf("%w: no header row", ErrMissingColumns)
	}

	colIndex, err := columnIndex(rows[0])
	if err != nil {
		return nil, stats, err
	}

	var records []TransactionRecord
	for i, cells := range rows[1:] {
		if isBlank(cells) {
			continue
		}
		stats.RowsRead++

		row := make(Row, len(colIndex))
		for name, idx := range colIndex {
			if idx < len(cells) {
				row[name] = cells[idx]
			}
		}

		// Row numbers are 1-based and count the header.
		rec, ok := Normalize(i+2, row)
		if !ok {
			stats.RowsDiscarded++
			continue
		}
		records = append(records, rec)
	}
	return records, stats, nil
}

func columnIndex(header []string) (map[string]int, error) {
	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := colIndex[name]; !dup {
			colIndex[name] = i
		}
	}

	var missing []string
	for _, req := range RequiredColumns {
		if _, ok := colIndex[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return colIndex, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
