package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Preview limits
const (
	previewScanRows   = 200
	previewSampleRows = 5
	columnSampleCount = 3
	dominantTypeRatio = 0.8
)

// ColumnAnalysis describes one non-empty header column of the previewed sheet.
type ColumnAnalysis struct {
	Column       int         `json:"column"`
	Header       string      `json:"header"`
	Field        string      `json:"field,omitempty"`
	Method       MatchMethod `json:"method,omitempty"`
	DetectedType string      `json:"detected_type"`
	NullCount    int         `json:"null_count"`
	UniqueCount  int         `json:"unique_count"`
	Samples      []string    `json:"samples"`
}

// PreviewResult is the read-only analysis of an uploaded workbook.
type PreviewResult struct {
	SheetNames      []string            `json:"sheet_names"`
	Sheet           string              `json:"sheet"`
	DetectedKind    EntityKind          `json:"detected_entity_kind,omitempty"`
	HeaderRow       int                 `json:"header_row"`
	HeaderMethod    HeaderMethod        `json:"header_method"`
	Columns         []ColumnAnalysis    `json:"column_analysis"`
	SampleRows      []map[string]string `json:"sample_rows"`
	Unmapped        []UnmappedHeader    `json:"unmapped_headers,omitempty"`
	QualityScore    float64             `json:"data_quality_score"`
	Recommendations []string            `json:"recommendations,omitempty"`
	ProcessingMs    int64               `json:"processing_time_ms"`
}

// detectKind maps the header row against every vocabulary and returns the
// kind with the most mapped columns. Structural mappings beat keyword-only
// ones; ties go to the kind first in All order.
func detectKind(cat *Catalog, headers []string) (EntityDef, *FieldMapping, bool) {
	var (
		bestDef     EntityDef
		bestMapping *FieldMapping
	)
	for _, def := range All() {
		vocab, err := cat.Vocabulary(def.Kind)
		if err != nil {
			continue
		}
		m := MapHeaders(headers, vocab)
		if bestMapping == nil || betterMapping(m, bestMapping) {
			bestDef, bestMapping = def, m
		}
	}
	if bestMapping == nil || bestMapping.MappedCount() == 0 {
		return EntityDef{}, bestMapping, false
	}
	return bestDef, bestMapping, true
}

func betterMapping(m, than *FieldMapping) bool {
	if m.Fuzzy != than.Fuzzy {
		return !m.Fuzzy
	}
	return m.MappedCount() > than.MappedCount()
}

// previewSheet analyzes one worksheet. sheetNames is reported as-is.
func previewSheet(cat *Catalog, locator *RegionLocator, sheet Worksheet, sheetNames []string) (*PreviewResult, error) {
	start := time.Now()
	res := &PreviewResult{SheetNames: sheetNames, Sheet: sheet.Name()}

	header, err := locator.Locate(sheet)
	if err != nil {
		return nil, err
	}
	res.HeaderRow = header.Line()
	res.HeaderMethod = header.Method
	if !header.Found() {
		res.HeaderRow = 0
		res.Recommendations = []string{"The sheet has no content in its first rows; check that the right sheet was uploaded."}
		res.ProcessingMs = time.Since(start).Milliseconds()
		return res, nil
	}

	def, mapping, ok := detectKind(cat, header.Cells)
	if ok {
		res.DetectedKind = def.Kind
		res.Unmapped = mapping.Unmapped
	}

	rows, err := sheet.ReadRows(header.Row+1, previewScanRows)
	if err != nil {
		return nil, fmt.Errorf("read preview rows: %w", err)
	}
	rows = trimTrailingEmpty(rows)

	mappedBy := make(map[int]ColumnMapping)
	if mapping != nil {
		for _, cm := range mapping.Columns {
			mappedBy[cm.Column] = cm
		}
	}
	nonEmptyHeaders := 0
	for col, h := range header.Cells {
		if h == "" {
			continue
		}
		nonEmptyHeaders++
		ca := analyzeColumn(rows, col)
		ca.Header = h
		if cm, ok := mappedBy[col]; ok && res.DetectedKind != "" {
			ca.Field = cm.Field
			ca.Method = cm.Method
		}
		res.Columns = append(res.Columns, ca)
	}

	for _, row := range rows {
		if len(res.SampleRows) == previewSampleRows {
			break
		}
		if isEmptyRow(row) {
			continue
		}
		sample := make(map[string]string)
		for col, h := range header.Cells {
			if h == "" {
				continue
			}
			if s := strings.TrimSpace(CellString(cellAt(row, col))); s != "" {
				sample[h] = s
			}
		}
		res.SampleRows = append(res.SampleRows, sample)
	}

	if ok && nonEmptyHeaders > 0 {
		res.QualityScore = math.Round(float64(mapping.MappedCount())/float64(nonEmptyHeaders)*1000) / 10
	}
	res.Recommendations = recommendations(def, ok, header, mapping, len(rows))
	res.ProcessingMs = time.Since(start).Milliseconds()
	return res, nil
}

func recommendations(def EntityDef, detected bool, header HeaderCandidate, mapping *FieldMapping, dataRows int) []string {
	if !detected {
		return []string{"No column matches a known field; download a template and compare the header row."}
	}

	var out []string
	if header.Method != HeaderByKeyword {
		out = append(out, fmt.Sprintf("The header row was guessed (row %d); check that it is the real header.", header.Line()))
	}
	if mapping.Fuzzy {
		out = append(out, "Columns were matched by keyword only; review the column mapping before importing.")
	}
	var missing []string
	for _, field := range def.Rules.Required {
		if !mapping.Has(field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		out = append(out, "Required columns are missing: "+strings.Join(missing, ", ")+".")
	}
	if len(mapping.Unmapped) > 0 {
		headers := make([]string, len(mapping.Unmapped))
		for i, u := range mapping.Unmapped {
			headers[i] = u.Header
		}
		out = append(out, fmt.Sprintf("%d columns will be ignored: %s.", len(headers), strings.Join(headers, ", ")))
	}
	if dataRows == 0 {
		out = append(out, "No data rows were found below the header.")
	}
	return out
}

func analyzeColumn(rows [][]any, col int) ColumnAnalysis {
	ca := ColumnAnalysis{Column: col, Samples: []string{}}
	seen := make(map[string]bool)
	kinds := make(map[string]int)
	values := 0

	for _, row := range rows {
		raw := cellAt(row, col)
		s := strings.TrimSpace(CellString(raw))
		if s == "" {
			ca.NullCount++
			continue
		}
		values++
		kinds[cellKind(raw)]++
		if !seen[s] {
			seen[s] = true
			if len(ca.Samples) < columnSampleCount {
				ca.Samples = append(ca.Samples, s)
			}
		}
	}
	ca.UniqueCount = len(seen)
	ca.DetectedType = dominantKind(kinds, values)
	return ca
}

// cellKind classifies a non-empty cell for column analysis.
func cellKind(raw any) string {
	switch v := raw.(type) {
	case bool:
		return FieldBool.String()
	case time.Time:
		return FieldDate.String()
	case string:
		s := strings.TrimSpace(v)
		if dateShaped.MatchString(s) {
			return FieldDate.String()
		}
		if b := CoerceBool(s); b.Valid {
			return FieldBool.String()
		}
		if CoerceInt(s).Valid {
			return "number"
		}
		return FieldText.String()
	}
	if _, ok := numericCell(raw); ok {
		return "number"
	}
	return FieldText.String()
}

func dominantKind(kinds map[string]int, total int) string {
	if total == 0 {
		return "empty"
	}
	for kind, n := range kinds {
		if float64(n)/float64(total) >= dominantTypeRatio {
			return kind
		}
	}
	return "mixed"
}

func trimTrailingEmpty(rows [][]any) [][]any {
	end := len(rows)
	for end > 0 && isEmptyRow(rows[end-1]) {
		end--
	}
	return rows[:end]
}
