package dataset

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/provtools/userbot/internal/faults"
)

// Table is a decoded tabular file: the raw header row plus one string-keyed
// map per data row, keyed by the raw (lower-cased, trimmed) header.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// Decode parses a .csv or .xlsx attachment into a Table.
func Decode(filename string, content []byte) (Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return decodeCSV(content)
	case ".xlsx":
		return decodeXLSX(content)
	default:
		return Table{}, faults.Dataf("unsupported file type: %s", filename)
	}
}

func decodeCSV(content []byte) (Table, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, faults.Dataf("parse csv: %v", err)
		}
		rows = append(rows, record)
	}
	return tableFromRows(rows)
}

func decodeXLSX(content []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return Table{}, faults.Dataf("open xlsx: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, faults.Dataf("xlsx has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, faults.Dataf("read xlsx rows: %v", err)
	}
	return tableFromRows(rows)
}

func tableFromRows(rows [][]string) (Table, error) {
	if len(rows) == 0 {
		return Table{}, faults.Dataf("file is empty")
	}

	headers := make([]string, 0, len(rows[0]))
	for _, h := range rows[0] {
		headers = append(headers, strings.ToLower(strings.TrimSpace(h)))
	}

	table := Table{Headers: headers}
	for _, raw := range rows[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(raw) {
				row[h] = raw[i]
			} else {
				row[h] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// IsIdentityMapping reports whether a header mapping maps every header to
// itself, i.e. no renaming was actually applied.
func IsIdentityMapping(mapping map[string]string) bool {
	for from, to := range mapping {
		if !strings.EqualFold(strings.TrimSpace(from), strings.TrimSpace(to)) {
			return false
		}
	}
	return true
}

// HeadersMatchCanonical reports whether the lower-cased headers exactly equal
// the canonical header set, in any order.
func HeadersMatchCanonical(headers []string) bool {
	canonical := CanonicalHeaders()
	found := make(map[string]bool, len(canonical))
	for _, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if !canonical[h] {
			return false
		}
		if found[h] {
			return false
		}
		found[h] = true
	}
	return len(found) == len(canonical)
}

// ApplyMapping re-keys each row from raw headers to canonical fields. Headers
// without a mapping entry are kept under their raw name.
func ApplyMapping(table Table, mapping map[string]string) Table {
	if len(mapping) == 0 {
		return table
	}

	normalized := make(map[string]string, len(mapping))
	for from, to := range mapping {
		normalized[strings.ToLower(strings.TrimSpace(from))] = strings.ToLower(strings.TrimSpace(to))
	}

	out := Table{Headers: make([]string, len(table.Headers))}
	for i, h := range table.Headers {
		if to, ok := normalized[h]; ok {
			out.Headers[i] = to
		} else {
			out.Headers[i] = h
		}
	}

	for _, row := range table.Rows {
		mapped := make(map[string]string, len(row))
		for k, v := range row {
			if to, ok := normalized[k]; ok {
				mapped[to] = v
			} else {
				mapped[k] = v
			}
		}
		out.Rows = append(out.Rows, mapped)
	}
	return out
}
