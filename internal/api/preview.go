package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// defaultPreviewRows caps a preview when the caller does not supply a
// max_rows query parameter.
const defaultPreviewRows = 50

// previewRows reads up to maxRows data rows (plus header, if any) from a
// .csv, .xls, or .xlsx file at path.
func previewRows(path string, maxRows int) ([][]string, error) {
	if maxRows <= 0 {
		maxRows = defaultPreviewRows
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return previewCSV(path, maxRows)
	case ".xlsx", ".xls":
		return previewExcel(path, maxRows)
	default:
		return nil, fmt.Errorf("api: unsupported preview format %q", filepath.Ext(path))
	}
}

func previewCSV(path string, maxRows int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for i := 0; i < maxRows+1; i++ { // +1 for the header row
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func previewExcel(path string, maxRows int) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("api: workbook has no sheets")
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(all) > maxRows+1 {
		all = all[:maxRows+1]
	}
	return all, nil
}
