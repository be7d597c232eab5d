package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Load opens a tabular dataset file, dispatching on extension.
// maxRows bounds the number of data rows read (0 means no bound).
func Load(path string, maxRows int) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadWorkbook(path, "", maxRows)
	case ".csv":
		return LoadCSV(path, maxRows)
	default:
		return nil, fmt.Errorf("dataset: unsupported format: %s", filepath.Ext(path))
	}
}

// LoadWorkbook reads a sheet of an Excel workbook into a Dataset. The first
// row is the header. When sheet is empty the first sheet is used.
func LoadWorkbook(path, sheet string, maxRows int) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("dataset: workbook has no sheets")
		}
		sheet = sheets[0]
	}

	iter, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var header []string
	var records [][]string
	for iter.Next() {
		vals, cerr := iter.Columns()
		if cerr != nil {
			return nil, cerr
		}
		if header == nil {
			header = vals
			continue
		}
		records = append(records, vals)
		if maxRows > 0 && len(records) >= maxRows {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("dataset: sheet %q is empty", sheet)
	}
	return New(header, records)
}

// LoadCSV reads a comma-separated file into a Dataset. The first record is
// the header. Ragged rows are tolerated.
func LoadCSV(path string, maxRows int) (*Dataset, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: read csv: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("dataset: csv file is empty")
	}
	records := all[1:]
	if maxRows > 0 && len(records) > maxRows {
		records = records[:maxRows]
	}
	return New(all[0], records)
}
