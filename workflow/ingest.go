package workflow

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrMissingHeaders rejects uploads whose header row lacks the required columns.
var ErrMissingHeaders = errors.New("file must contain 'description' and 'amount' headers")

// DecodeCSVRecords reads a CSV stream into raw records keyed by the header
// row. Headers are case-insensitive; unknown columns pass through untouched
// so rule conditions on extra fields keep working.
func DecodeCSVRecords(r io.Reader) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrMissingHeaders
	}
	if err != nil {
		return nil, err
	}
	keys, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}

	var records []RawRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rowToRecord(keys, row))
	}
	return records, nil
}

// DecodeXLSXRecords reads the first sheet of an XLSX workbook the same way
// DecodeCSVRecords reads a CSV stream.
func DecodeXLSXRecords(r io.Reader) ([]RawRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrMissingHeaders
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrMissingHeaders
	}

	keys, err := normalizeHeader(rows[0])
	if err != nil {
		return nil, err
	}
	var records []RawRecord
	for _, row := range rows[1:] {
		records = append(records, rowToRecord(keys, row))
	}
	return records, nil
}

func normalizeHeader(header []string) ([]string, error) {
	keys := make([]string, len(header))
	seen := map[string]bool{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		keys[i] = key
		seen[key] = true
	}
	if !seen["description"] || !seen["amount"] {
		return nil, ErrMissingHeaders
	}
	return keys, nil
}

func rowToRecord(keys []string, row []string) RawRecord {
	record := make(RawRecord, len(keys))
	for i, key := range keys {
		if key == "" || i >= len(row) {
			continue
		}
		record[key] = row[i]
	}
	return record
}
