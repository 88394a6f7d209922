package core

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Worksheet is a row source. Rows are addressed by 0-based index; cells are
// nil, string, float64, bool or time.Time.
type Worksheet interface {
	Name() string
	// RowCount is an upper bound on the number of rows, or -1 if unknown.
	RowCount() int
	// ReadRows returns up to n rows starting at start. A short result means
	// the sheet ended.
	ReadRows(start, n int) ([][]any, error)
}

// Workbook is an ordered set of worksheets opened for one ingestion call.
type Workbook struct {
	sheets []Worksheet
	file   *excelize.File
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// OpenWorkbook opens xlsx bytes, or CSV bytes when the data is not a zip archive.
// Legacy binary .xls files are rejected.
func OpenWorkbook(data []byte) (*Workbook, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}
	if bytes.HasPrefix(data, oleMagic) {
		return nil, fmt.Errorf("%w: legacy .xls format is not supported, save as .xlsx", ErrInvalidWorkbook)
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return &Workbook{sheets: []Worksheet{newCSVSheet("Sheet1", data)}}, nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}

	wb := &Workbook{file: f}
	for _, name := range f.GetSheetList() {
		wb.sheets = append(wb.sheets, newExcelSheet(f, name))
	}
	if len(wb.sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidWorkbook)
	}
	return wb, nil
}

// NewWorkbook wraps already-built worksheets.
func NewWorkbook(sheets ...Worksheet) *Workbook {
	return &Workbook{sheets: sheets}
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.sheets))
	for i, s := range w.sheets {
		names[i] = s.Name()
	}
	return names
}

// Sheets returns the worksheets in workbook order.
func (w *Workbook) Sheets() []Worksheet { return w.sheets }

// Sheet returns the worksheet with the given name.
func (w *Workbook) Sheet(name string) (Worksheet, bool) {
	for _, s := range w.sheets {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// SelectSheet picks the sheet for an entity kind: the named sheet if given,
// else the first whose name contains one of keywords, else the first sheet.
func (w *Workbook) SelectSheet(name string, keywords []string) (Worksheet, error) {
	if name != "" {
		s, ok := w.Sheet(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, name)
		}
		return s, nil
	}
	for _, s := range w.sheets {
		lower := strings.ToLower(s.Name())
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return s, nil
			}
		}
	}
	return w.sheets[0], nil
}

// Close releases the underlying workbook file.
func (w *Workbook) Close() error {
	var errs []error
	for _, s := range w.sheets {
		if es, ok := s.(*excelSheet); ok {
			errs = append(errs, es.closeRows())
		}
	}
	if w.file != nil {
		errs = append(errs, w.file.Close())
	}
	return errors.Join(errs...)
}

// ----------------------------------------------------------------------------
// excelize-backed sheet
// ----------------------------------------------------------------------------

// excelSheet streams rows through excelize's row iterator. Reading backwards
// reopens the iterator.
type excelSheet struct {
	file     *excelize.File
	name     string
	rowCount int

	rows   *excelize.Rows
	cursor int
}

func newExcelSheet(f *excelize.File, name string) *excelSheet {
	return &excelSheet{file: f, name: name, rowCount: sheetRowCount(f, name)}
}

func (s *excelSheet) Name() string  { return s.name }
func (s *excelSheet) RowCount() int { return s.rowCount }

func (s *excelSheet) ReadRows(start, n int) ([][]any, error) {
	if n <= 0 {
		return nil, nil
	}
	if s.rows == nil || start < s.cursor {
		if err := s.reopen(); err != nil {
			return nil, err
		}
	}

	for s.cursor < start {
		if !s.rows.Next() {
			return nil, s.rows.Error()
		}
		s.cursor++
	}

	out := make([][]any, 0, n)
	for len(out) < n && s.rows.Next() {
		cols, err := s.rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return out, fmt.Errorf("read %s row %d: %w", s.name, s.cursor+1, err)
		}
		out = append(out, rawCells(cols))
		s.cursor++
	}
	return out, s.rows.Error()
}

func (s *excelSheet) reopen() error {
	if err := s.closeRows(); err != nil {
		return err
	}
	rows, err := s.file.Rows(s.name)
	if err != nil {
		return fmt.Errorf("open rows of %s: %w", s.name, err)
	}
	s.rows = rows
	s.cursor = 0
	return nil
}

func (s *excelSheet) closeRows() error {
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	return err
}

// sheetRowCount reads the row bound from the sheet dimension, e.g. "A1:R500".
func sheetRowCount(f *excelize.File, sheet string) int {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return -1
	}
	ref := dim
	if i := strings.LastIndex(dim, ":"); i >= 0 {
		ref = dim[i+1:]
	}
	_, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return -1
	}
	return row
}

// plainNumber matches raw numeric cell text that can be read as a float
// without losing meaning; leading zeros mark identifiers and stay text.
var plainNumber = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)

// rawCells converts excelize raw values to typed cells.
func rawCells(cols []string) []any {
	row := make([]any, len(cols))
	for i, c := range cols {
		row[i] = rawCell(c)
	}
	return row
}

func rawCell(s string) any {
	if s == "" {
		return nil
	}
	if plainNumber.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// ----------------------------------------------------------------------------
// In-memory sheet
// ----------------------------------------------------------------------------

type memorySheet struct {
	name string
	rows [][]any
}

// NewMemorySheet builds a worksheet from literal rows.
func NewMemorySheet(name string, rows [][]any) Worksheet {
	return &memorySheet{name: name, rows: rows}
}

func (s *memorySheet) Name() string  { return s.name }
func (s *memorySheet) RowCount() int { return len(s.rows) }

func (s *memorySheet) ReadRows(start, n int) ([][]any, error) {
	if start >= len(s.rows) || n <= 0 {
		return nil, nil
	}
	end := min(start+n, len(s.rows))
	return s.rows[start:end], nil
}

// ----------------------------------------------------------------------------
// Row helpers
// ----------------------------------------------------------------------------

// rowStrings renders every cell of a row as trimmed text.
func rowStrings(row []any) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(CellString(c))
	}
	return out
}

// isEmptyRow returns true if every cell is blank.
func isEmptyRow(row []any) bool {
	for _, c := range row {
		if strings.TrimSpace(CellString(c)) != "" {
			return false
		}
	}
	return true
}

func cellAt(row []any, col int) any {
	if col < 0 || col >= len(row) {
		return nil
	}
	return row[col]
}
