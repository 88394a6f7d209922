package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// LocatorConfig holds the region locator thresholds.
type LocatorConfig struct {
	// ScanRows bounds how many leading rows are considered.
	ScanRows int
	// MinScore is the lowest scorer result accepted as a header.
	MinScore float64
	// InstructionLength marks a first cell longer than this (in runes) as
	// free-text instructions.
	InstructionLength int
	// DataRowRatio skips rows whose share of numeric or date cells exceeds it.
	DataRowRatio float64

	FallbackMinCells      int
	FallbackMaxAvgLength  float64
	FallbackMinUniqueness float64
}

// DefaultLocatorConfig returns the thresholds used when none are configured.
func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		ScanRows:              30,
		MinScore:              3,
		InstructionLength:     50,
		DataRowRatio:          0.5,
		FallbackMinCells:      8,
		FallbackMaxAvgLength:  12,
		FallbackMinUniqueness: 0.9,
	}
}

// HeaderScorer rates how much a row looks like a header. Higher is better.
type HeaderScorer interface {
	Score(cells []string) float64
}

// KeywordScorer scores rows by domain header keywords.
type KeywordScorer struct {
	Keywords LocatorKeywords
	// IdentifierBonus is added per cell combining an identifier keyword with
	// an ID token, e.g. "L2 ID" or "应用编号".
	IdentifierBonus float64
	// CellBonus is added per non-empty cell.
	CellBonus float64
}

// NewKeywordScorer returns a scorer with the default weights.
func NewKeywordScorer(kw LocatorKeywords) *KeywordScorer {
	return &KeywordScorer{Keywords: kw, IdentifierBonus: 3, CellBonus: 0.5}
}

func (s *KeywordScorer) Score(cells []string) float64 {
	var score float64
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		score += s.CellBonus
		lower := strings.ToLower(cell)
		for _, kw := range s.Keywords.HeaderKeywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if containsAny(lower, s.Keywords.IdentifierKeywords) && containsAny(lower, s.Keywords.IDTokens) {
			score += s.IdentifierBonus
		}
	}
	return score
}

// HeaderMethod records how the header row was chosen.
type HeaderMethod string

const (
	HeaderByKeyword    HeaderMethod = "keyword"
	HeaderByStructure  HeaderMethod = "structural"
	HeaderByFirstRow   HeaderMethod = "first_row"
	HeaderNotAvailable HeaderMethod = "none"
)

// HeaderCandidate is a row considered as the header. Row is the 0-based
// sheet row index.
type HeaderCandidate struct {
	Row    int          `json:"row"`
	Cells  []string     `json:"cells"`
	Score  float64      `json:"score"`
	Method HeaderMethod `json:"method"`
}

// Line returns the 1-based sheet row number.
func (c HeaderCandidate) Line() int { return c.Row + 1 }

// Found reports whether any non-empty row was available.
func (c HeaderCandidate) Found() bool { return c.Method != HeaderNotAvailable }

// RegionLocator finds the header row of a worksheet.
type RegionLocator struct {
	cfg     LocatorConfig
	scorer  HeaderScorer
	summary []string
}

// NewRegionLocator creates a locator. A nil scorer uses the keyword scorer
// built from kw.
func NewRegionLocator(cfg LocatorConfig, kw LocatorKeywords, scorer HeaderScorer) *RegionLocator {
	if scorer == nil {
		scorer = NewKeywordScorer(kw)
	}
	summary := make([]string, len(kw.SummaryPhrases))
	for i, p := range kw.SummaryPhrases {
		summary[i] = strings.ToLower(p)
	}
	return &RegionLocator{cfg: cfg, scorer: scorer, summary: summary}
}

// Locate reads the leading rows of sheet and selects the header row.
// It never fails on content: when nothing scores, the first non-empty row
// is returned. Only read errors are returned.
func (l *RegionLocator) Locate(sheet Worksheet) (HeaderCandidate, error) {
	rows, err := sheet.ReadRows(0, l.cfg.ScanRows)
	if err != nil {
		return HeaderCandidate{}, fmt.Errorf("scan %s for header: %w", sheet.Name(), err)
	}
	return l.LocateRows(rows), nil
}

// LocateRows selects the header among rows, which start at sheet row 0.
func (l *RegionLocator) LocateRows(rows [][]any) HeaderCandidate {
	if len(rows) > l.cfg.ScanRows && l.cfg.ScanRows > 0 {
		rows = rows[:l.cfg.ScanRows]
	}

	best := HeaderCandidate{Row: -1}
	firstNonEmpty := -1
	for i, row := range rows {
		cells := rowStrings(row)
		if countNonEmpty(cells) == 0 {
			continue
		}
		if firstNonEmpty < 0 {
			firstNonEmpty = i
		}
		if l.isInstruction(cells) || l.isSummary(row, cells) || l.isDataRow(row) {
			continue
		}
		score := l.scorer.Score(cells)
		if best.Row < 0 || score > best.Score {
			best = HeaderCandidate{Row: i, Cells: cells, Score: score, Method: HeaderByKeyword}
		}
	}
	if best.Row >= 0 && best.Score >= l.cfg.MinScore {
		return best
	}

	for i, row := range rows {
		cells := rowStrings(row)
		if l.looksStructural(cells) {
			return HeaderCandidate{Row: i, Cells: cells, Score: l.scorer.Score(cells), Method: HeaderByStructure}
		}
	}

	if firstNonEmpty >= 0 {
		cells := rowStrings(rows[firstNonEmpty])
		return HeaderCandidate{Row: firstNonEmpty, Cells: cells, Score: l.scorer.Score(cells), Method: HeaderByFirstRow}
	}
	return HeaderCandidate{Row: 0, Method: HeaderNotAvailable}
}

func (l *RegionLocator) isInstruction(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return utf8.RuneCountInString(c) > l.cfg.InstructionLength
		}
	}
	return false
}

// isSummary matches totals rows. A row that opens with a summary label
// ("合计", "Total:") is always one. Otherwise a summary label anywhere
// counts when most non-empty cells are labels or figures, as in
// ["应用数量", 12, "合计", 60].
func (l *RegionLocator) isSummary(row []any, cells []string) bool {
	var nonEmpty, labels, figures int
	for i, c := range cells {
		if c == "" {
			continue
		}
		nonEmpty++
		switch {
		case l.isSummaryLabel(c):
			if nonEmpty == 1 {
				return true
			}
			labels++
		case i < len(row) && isDataCell(row[i]):
			figures++
		}
	}
	return labels > 0 && 2*(labels+figures) > nonEmpty
}

func (l *RegionLocator) isSummaryLabel(c string) bool {
	lower := strings.ToLower(c)
	for _, p := range l.summary {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func (l *RegionLocator) isDataRow(row []any) bool {
	var nonEmpty, data int
	for _, c := range row {
		if strings.TrimSpace(CellString(c)) == "" {
			continue
		}
		nonEmpty++
		if isDataCell(c) {
			data++
		}
	}
	return nonEmpty > 0 && float64(data)/float64(nonEmpty) > l.cfg.DataRowRatio
}

func (l *RegionLocator) looksStructural(cells []string) bool {
	var total int
	seen := make(map[string]bool)
	n := 0
	for _, c := range cells {
		if c == "" {
			continue
		}
		n++
		total += utf8.RuneCountInString(c)
		seen[strings.ToLower(c)] = true
	}
	if n < l.cfg.FallbackMinCells {
		return false
	}
	avg := float64(total) / float64(n)
	uniqueness := float64(len(seen)) / float64(n)
	return avg < l.cfg.FallbackMaxAvgLength && uniqueness >= l.cfg.FallbackMinUniqueness
}

var dateShaped = regexp.MustCompile(`^(\d{4}[-/.年]\d{1,2}[-/.月]\d{1,2}日?|\d{1,2}/\d{1,2}/\d{4})([ T]\d{1,2}:\d{2}(:\d{2})?)?$`)

// isDataCell reports whether a cell holds a number or a date rather than a label.
func isDataCell(c any) bool {
	switch v := c.(type) {
	case time.Time, bool:
		return true
	case string:
		s := strings.TrimSpace(v)
		if dateShaped.MatchString(s) {
			return true
		}
		_, err := decimal.NewFromString(cleanNumber(s))
		return err == nil
	}
	_, ok := numericCell(c)
	return ok
}

func countNonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if c != "" {
			n++
		}
	}
	return n
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
