package sheetextract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	ErrNoSheet           = errors.New("workbook has no sheets")
)

// Sheet is the first worksheet of a file, rows keyed by the header row.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []map[string]any
}

// Parse reads an .xlsx or .csv file. Numeric cells become float64; blank
// rows are skipped.
func Parse(r io.Reader, ext string) (*Sheet, error) {
	var (
		name  string
		table [][]string
		err   error
	)
	switch strings.ToLower(ext) {
	case ".xlsx":
		name, table, err = readXLSX(r)
	case ".csv":
		name = "csv"
		table, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return build(name, table), nil
}

func readXLSX(r io.Reader) (string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", nil, fmt.Errorf("open workbook failed: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, ErrNoSheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", nil, fmt.Errorf("read sheet %q failed: %w", sheets[0], err)
	}
	return sheets[0], rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv failed: %w", err)
	}
	return rows, nil
}

func build(name string, table [][]string) *Sheet {
	s := &Sheet{Name: name, Rows: []map[string]any{}}
	if len(table) == 0 {
		return s
	}

	seen := map[string]int{}
	for i, h := range table[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n)
		} else {
			seen[h] = 1
		}
		s.Headers = append(s.Headers, h)
	}

	for _, raw := range table[1:] {
		row := map[string]any{}
		for i, cell := range raw {
			if i >= len(s.Headers) {
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			row[s.Headers[i]] = cellValue(cell)
		}
		if len(row) > 0 {
			s.Rows = append(s.Rows, row)
		}
	}
	return s
}

func cellValue(cell string) any {
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

// Text renders each row as "header: value, ..." lines in header order.
func (s *Sheet) Text() string {
	var b strings.Builder
	for _, row := range s.Rows {
		first := true
		for _, h := range s.Headers {
			v, ok := row[h]
			if !ok {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%s: %v", h, v)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
