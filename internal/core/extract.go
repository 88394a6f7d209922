package core

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// ExtractConfig bounds how much of a sheet is read.
type ExtractConfig struct {
	ChunkSize int
	// EmptyRowStop ends extraction after this many consecutive empty rows.
	EmptyRowStop int
	// MaxRows caps the data rows read per sheet.
	MaxRows int
	// Sheets with more rows than LargeSheetRows are sampled mid-sheet
	// before reading. A sample window at least SampleEmptyRatio empty moves
	// the upper bound to the start of the window.
	LargeSheetRows   int
	SampleWindow     int
	SampleEmptyRatio float64
}

// DefaultExtractConfig returns the bounds used when none are configured.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		ChunkSize:        500,
		EmptyRowStop:     20,
		MaxRows:          50000,
		LargeSheetRows:   10000,
		SampleWindow:     200,
		SampleEmptyRatio: 0.95,
	}
}

// StopReason tells why extraction ended.
type StopReason string

const (
	StopEndOfSheet StopReason = "end_of_sheet"
	StopEmptyRun   StopReason = "empty_run"
	StopMaxRows    StopReason = "max_rows"
	StopUpperBound StopReason = "upper_bound"
)

// ExtractionState is threaded through successive NextChunk calls. Each
// extraction owns its own state.
type ExtractionState struct {
	// NextRow is the 0-based sheet row read next.
	NextRow int
	// UpperBound is the exclusive row limit, or -1 when unbounded.
	UpperBound int
	EmptyRun   int
	Processed  int
	Records    int
	Narrowed   bool
	Done       bool
	StopReason StopReason
	// Issues collects coercion warnings.
	Issues []ValidationIssue
}

// Extractor turns data rows below a header into records.
type Extractor struct {
	sheet   Worksheet
	def     EntityDef
	header  HeaderCandidate
	mapping *FieldMapping
	cfg     ExtractConfig
}

func NewExtractor(sheet Worksheet, def EntityDef, header HeaderCandidate, mapping *FieldMapping, cfg ExtractConfig) *Extractor {
	return &Extractor{sheet: sheet, def: def, header: header, mapping: mapping, cfg: cfg}
}

// Start returns a fresh state positioned on the first data row. Large
// sheets are sampled here.
func (e *Extractor) Start() (*ExtractionState, error) {
	st := &ExtractionState{NextRow: e.header.Row + 1, UpperBound: -1}
	if !e.header.Found() {
		st.Done = true
		st.StopReason = StopEndOfSheet
		return st, nil
	}

	total := e.sheet.RowCount()
	if total < 0 || total <= e.cfg.LargeSheetRows || e.cfg.SampleWindow <= 0 {
		return st, nil
	}

	sampleAt := st.NextRow + (total-st.NextRow)/2
	rows, err := e.sheet.ReadRows(sampleAt, e.cfg.SampleWindow)
	if err != nil {
		return nil, fmt.Errorf("sample %s at row %d: %w", e.sheet.Name(), sampleAt+1, err)
	}
	empty := e.cfg.SampleWindow - len(rows)
	for _, row := range rows {
		if isEmptyRow(row) {
			empty++
		}
	}
	if float64(empty)/float64(e.cfg.SampleWindow) >= e.cfg.SampleEmptyRatio {
		st.UpperBound = sampleAt
		st.Narrowed = true
	}
	return st, nil
}

// NextChunk reads at most one chunk of rows and returns the records built
// from them. It returns nil once st.Done is set.
func (e *Extractor) NextChunk(st *ExtractionState) ([]Record, error) {
	if st.Done {
		return nil, nil
	}

	n := e.cfg.ChunkSize
	if remaining := e.cfg.MaxRows - st.Processed; remaining < n {
		n = remaining
	}
	if st.UpperBound >= 0 && st.UpperBound-st.NextRow < n {
		n = st.UpperBound - st.NextRow
	}
	if n <= 0 {
		st.Done = true
		if st.Processed >= e.cfg.MaxRows {
			st.StopReason = StopMaxRows
		} else {
			st.StopReason = StopUpperBound
		}
		return nil, nil
	}

	rows, err := e.sheet.ReadRows(st.NextRow, n)
	if err != nil {
		return nil, fmt.Errorf("read %s rows %d-%d: %w", e.sheet.Name(), st.NextRow+1, st.NextRow+n, err)
	}

	var out []Record
	for i, row := range rows {
		line := st.NextRow + i + 1
		st.Processed++

		if isEmptyRow(row) {
			st.EmptyRun++
			if st.EmptyRun >= e.cfg.EmptyRowStop {
				st.NextRow += i + 1
				st.Done = true
				st.StopReason = StopEmptyRun
				return out, nil
			}
			continue
		}
		st.EmptyRun = 0

		rec, issues := e.buildRecord(row, line)
		if rec == nil {
			continue
		}
		st.Issues = append(st.Issues, issues...)
		st.Records++
		out = append(out, rec)
	}
	st.NextRow += len(rows)

	if len(rows) < n {
		st.Done = true
		st.StopReason = StopEndOfSheet
	}
	return out, nil
}

// buildRecord coerces the mapped cells of one row. It returns nil when no
// mapped cell produced a value.
func (e *Extractor) buildRecord(row []any, line int) (Record, []ValidationIssue) {
	rec := e.def.NewRecord(line)
	var issues []ValidationIssue
	set := 0

	for _, cm := range e.mapping.Columns {
		raw := cellAt(row, cm.Column)
		text := strings.TrimSpace(CellString(raw))
		if text == "" {
			continue
		}

		v := Coerce(raw, cm.Type)
		if !v.Valid || v.Type != cm.Type {
			issue := ValidationIssue{
				Row:      line,
				Column:   cm.Header,
				Field:    cm.Field,
				Message:  fmt.Sprintf("cannot read %q as %s, left empty", text, cm.Type),
				Severity: SeverityWarning,
				Value:    text,
				Code:     CodeCoercion,
			}
			if cm.Type == FieldTimestamp && IsStatusLabel(text) {
				issue.Message = "status label found in timestamp column, left empty"
				issue.Code = CodeStatusInTimestamp
			}
			issues = append(issues, issue)
			continue
		}
		if err := rec.Set(cm.Field, v); err != nil {
			issues = append(issues, ValidationIssue{
				Row:      line,
				Column:   cm.Header,
				Field:    cm.Field,
				Message:  err.Error(),
				Severity: SeverityWarning,
				Value:    text,
				Code:     CodeCoercion,
			})
			continue
		}
		set++
	}

	if set == 0 {
		return nil, nil
	}
	return rec, issues
}

// Records iterates over the remaining records of st, one chunk at a time.
func (e *Extractor) Records(st *ExtractionState) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for !st.Done {
			recs, err := e.NextChunk(st)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range recs {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

// ExtractAll reads every record of the sheet. ctx is checked between chunks.
func (e *Extractor) ExtractAll(ctx context.Context) ([]Record, *ExtractionState, error) {
	st, err := e.Start()
	if err != nil {
		return nil, nil, err
	}
	var records []Record
	for !st.Done {
		if err := ctx.Err(); err != nil {
			return nil, st, err
		}
		recs, err := e.NextChunk(st)
		if err != nil {
			return nil, st, err
		}
		records = append(records, recs...)
	}
	return records, st, nil
}
