// Package preview validates dataset files before upload and renders the first rows of them.
package preview

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const (
	// MaxFileSize is the exclusive upper bound on an uploaded file, in bytes.
	MaxFileSize = 10 * 1024 * 1024
	// MaxColumns is the widest dataset the platform accepts.
	MaxColumns = 20
	// MaxRows is the longest dataset the platform accepts. It is enforced by the backend.
	MaxRows = 5000
	// Rows is how many data rows a preview shows.
	Rows = 5
)

// Messages shown for files rejected before upload.
const (
	TooLargeMessage    = "File is too large. Maximum size is 10MB."
	InvalidTypeMessage = "Invalid file type. Supported formats: CSV, JSON, Excel (xlsx, xls)"
)

var (
	// ErrTooLarge rejects files of MaxFileSize bytes or more.
	ErrTooLarge = errors.New(TooLargeMessage)
	// ErrInvalidType rejects extensions other than csv, json, xlsx and xls.
	ErrInvalidType = errors.New(InvalidTypeMessage)
	// ErrNoPreview means the format can be uploaded but not previewed locally.
	ErrNoPreview = errors.New("preview is not available for legacy Excel files")
)

var allowed = map[string]bool{"csv": true, "json": true, "xlsx": true, "xls": true}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// CheckFile rejects files that must never reach the backend.
func CheckFile(name string, size int64) error {
	if size >= MaxFileSize {
		return ErrTooLarge
	}
	if !allowed[Extension(name)] {
		return ErrInvalidType
	}
	return nil
}

// SuggestName derives a dataset name from a file name: "my_data-set.csv" becomes "My Data Set".
func SuggestName(filename string) string {
	base := filepath.Base(filename)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)

	out := []rune(base)
	for i, r := range out {
		if i == 0 || !isWordRune(out[i-1]) {
			out[i] = unicode.ToUpper(r)
		}
	}
	return string(out)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Preview is the head of a dataset file.
type Preview struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

// Cells returns row i in column order, formatted for display.
func (p Preview) Cells(i int) []string {
	cells := make([]string, len(p.Columns))
	for j, col := range p.Columns {
		if v, ok := p.Rows[i][col]; ok && v != nil {
			cells[j] = fmt.Sprint(v)
		}
	}
	return cells
}

// Parse reads the first rows of a dataset file. ext is the file's extension as returned by
// Extension. When firstRowIsHeader is false, columns are named Column1..N.
func Parse(r io.Reader, ext string, firstRowIsHeader bool) (*Preview, error) {
	var (
		p   *Preview
		err error
	)
	switch ext {
	case "csv":
		p, err = parseCSV(r, firstRowIsHeader)
	case "json":
		p, err = parseJSON(r)
	case "xlsx":
		p, err = parseXLSX(r, firstRowIsHeader)
	case "xls":
		return nil, ErrNoPreview
	default:
		return nil, errors.Errorf("unsupported file type: %s", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(p.Columns) > MaxColumns {
		return nil, errors.Errorf("File exceeds maximum of %d columns (has %d)",
			MaxColumns, len(p.Columns))
	}
	return p, nil
}

// fromRecords builds a preview from string rows. Empty header cells are named by position.
func fromRecords(records [][]string, firstRowIsHeader bool) (*Preview, error) {
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, errors.New("file is empty")
	}
	p := &Preview{}
	if firstRowIsHeader {
		for i, h := range records[0] {
			h = strings.TrimSpace(h)
			if h == "" {
				h = fmt.Sprintf("Column%d", i+1)
			}
			p.Columns = append(p.Columns, h)
		}
		records = records[1:]
	} else {
		for i := range records[0] {
			p.Columns = append(p.Columns, fmt.Sprintf("Column%d", i+1))
		}
	}
	for _, rec := range records {
		if len(p.Rows) == Rows {
			break
		}
		row := make(map[string]interface{}, len(p.Columns))
		for i, col := range p.Columns {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			} else {
				row[col] = ""
			}
		}
		p.Rows = append(p.Rows, row)
	}
	return p, nil
}

func parseCSV(r io.Reader, firstRowIsHeader bool) (*Preview, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var records [][]string
	// One extra record for the header.
	for len(records) <= Rows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "parsing CSV")
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.New("CSV file is empty")
	}
	return fromRecords(records, firstRowIsHeader)
}

func parseJSON(r io.Reader) (*Preview, error) {
	bs, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading JSON")
	}
	bs = bytes.TrimSpace(bs)

	var rows []map[string]interface{}
	switch {
	case bytes.HasPrefix(bs, []byte("[")):
		if err := json.Unmarshal(bs, &rows); err != nil {
			return nil, errors.Wrap(err, "Invalid JSON format")
		}
	case bytes.HasPrefix(bs, []byte("{")):
		var obj map[string]interface{}
		if err := json.Unmarshal(bs, &obj); err != nil {
			return nil, errors.Wrap(err, "Invalid JSON format")
		}
		rows = []map[string]interface{}{obj}
	default:
		return nil, errors.New("Invalid JSON format: must contain object or array")
	}
	if len(rows) == 0 {
		return nil, errors.New("Invalid JSON format: array is empty")
	}

	p := &Preview{Columns: orderedKeys(bs, rows[0])}
	if len(rows) > Rows {
		rows = rows[:Rows]
	}
	p.Rows = rows
	return p, nil
}

// orderedKeys returns the keys of the first object in document order, which decoding into a
// map loses. It falls back to sorted keys if the document cannot be walked.
func orderedKeys(doc []byte, first map[string]interface{}) []string {
	keyDepth := 1
	if bytes.HasPrefix(doc, []byte("[")) {
		keyDepth = 2
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	var keys []string
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch v := tok.(type) {
		case json.Delim:
			if v == '{' || v == '[' {
				depth++
				continue
			}
			depth--
			if depth < keyDepth && len(keys) == len(first) {
				return keys
			}
			if depth < keyDepth {
				return sortedKeys(first)
			}
		case string:
			if depth != keyDepth {
				continue
			}
			keys = append(keys, v)
			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return sortedKeys(first)
			}
		}
	}
	if len(keys) != len(first) {
		return sortedKeys(first)
	}
	return keys
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseXLSX(r io.Reader, firstRowIsHeader bool) (*Preview, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "Error parsing Excel file")
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("Invalid Excel file or no sheets found")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "reading sheet %s", sheets[0])
	}
	defer rows.Close() //nolint:errcheck

	var records [][]string
	for len(records) <= Rows && rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, errors.Wrap(err, "Error parsing Excel file")
		}
		records = append(records, cols)
	}
	if len(records) == 0 {
		return nil, errors.New("Excel file appears to be empty")
	}
	return fromRecords(records, firstRowIsHeader)
}
