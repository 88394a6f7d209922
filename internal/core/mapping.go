package core

import (
	"sort"
	"strings"
)

// MatchMethod records how a header was matched to its field.
type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchCollapsed MatchMethod = "collapsed"
	MatchStripped  MatchMethod = "stripped"
	MatchFuzzy     MatchMethod = "fuzzy"
)

// bracketMarkers signal headers that were visually wrapped around a unit
// or hint, e.g. "进度\n(%)".
const bracketMarkers = "()（）[]【】<>《》"

// ColumnMapping ties one sheet column to a canonical field.
type ColumnMapping struct {
	Column int         `json:"column"`
	Header string      `json:"header"`
	Field  string      `json:"field"`
	Type   FieldType   `json:"-"`
	Method MatchMethod `json:"method"`
}

// FieldMapping is the column -> field table for one sheet.
type FieldMapping struct {
	Columns  []ColumnMapping  `json:"columns"`
	Unmapped []UnmappedHeader `json:"unmapped,omitempty"`
	// Fuzzy is set when no column matched structurally and stem keywords
	// were used instead.
	Fuzzy bool `json:"fuzzy"`

	byField map[string]int
}

// MapHeaders maps raw header cells onto vocab. Each column takes the first
// hit of: exact match, whitespace-collapsed match, whitespace-stripped match
// (bracketed headers only). Stem keywords are tried only when no column
// matched any of those. A field is claimed by the leftmost column that maps
// to it; later columns are reported as unmapped duplicates.
//
// The result depends only on headers and vocab.
func MapHeaders(headers []string, vocab *Vocabulary) *FieldMapping {
	m := &FieldMapping{byField: make(map[string]int)}

	type pending struct {
		col    int
		header string
	}
	var unmatched []pending

	for col, raw := range headers {
		header := strings.TrimSpace(raw)
		if header == "" {
			continue
		}
		field, method, ok := vocab.matchStructural(header)
		if !ok {
			unmatched = append(unmatched, pending{col, header})
			continue
		}
		if !m.claim(col, header, field, method, vocab) {
			m.Unmapped = append(m.Unmapped, UnmappedHeader{Column: col, Header: header, Reason: "duplicate of " + field})
		}
	}

	if len(m.Columns) == 0 {
		m.Fuzzy = true
		var still []pending
		for _, p := range unmatched {
			field, ok := vocab.matchStem(p.header, m.byField)
			if ok && m.claim(p.col, p.header, field, MatchFuzzy, vocab) {
				continue
			}
			still = append(still, p)
		}
		unmatched = still
	}

	for _, p := range unmatched {
		m.Unmapped = append(m.Unmapped, UnmappedHeader{Column: p.col, Header: p.header, Reason: "no matching field"})
	}
	sort.Slice(m.Unmapped, func(i, j int) bool { return m.Unmapped[i].Column < m.Unmapped[j].Column })
	sort.Slice(m.Columns, func(i, j int) bool { return m.Columns[i].Column < m.Columns[j].Column })
	for i, c := range m.Columns {
		m.byField[c.Field] = i
	}
	return m
}

func (m *FieldMapping) claim(col int, header, field string, method MatchMethod, vocab *Vocabulary) bool {
	if _, taken := m.byField[field]; taken {
		return false
	}
	def, _ := vocab.Field(field)
	m.byField[field] = len(m.Columns)
	m.Columns = append(m.Columns, ColumnMapping{
		Column: col,
		Header: header,
		Field:  field,
		Type:   def.FieldType(),
		Method: method,
	})
	return true
}

// HeaderFor returns the sheet header mapped to field, or "".
func (m *FieldMapping) HeaderFor(field string) string {
	if i, ok := m.byField[field]; ok {
		return m.Columns[i].Header
	}
	return ""
}

// Has reports whether field is mapped to some column.
func (m *FieldMapping) Has(field string) bool {
	_, ok := m.byField[field]
	return ok
}

// MappedCount returns the number of mapped columns.
func (m *FieldMapping) MappedCount() int {
	return len(m.Columns)
}

func (v *Vocabulary) matchStructural(header string) (string, MatchMethod, bool) {
	if field, ok := v.exact[header]; ok {
		return field, MatchExact, true
	}
	if field, ok := v.folded[foldHeader(header)]; ok {
		return field, MatchCollapsed, true
	}
	if strings.ContainsAny(header, bracketMarkers) {
		if field, ok := v.stripped[stripHeader(header)]; ok {
			return field, MatchStripped, true
		}
	}
	return "", "", false
}

// matchStem returns the first unclaimed field, in table order, with a stem
// contained in header.
func (v *Vocabulary) matchStem(header string, claimed map[string]int) (string, bool) {
	h := strings.ToLower(header)
	for _, f := range v.Fields {
		if _, taken := claimed[f.Name]; taken {
			continue
		}
		for _, stem := range f.Stems {
			if strings.Contains(h, strings.ToLower(stem)) {
				return f.Name, true
			}
		}
	}
	return "", false
}

