package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeywords = LocatorKeywords{
	HeaderKeywords:     []string{"ID", "L2", "名称", "团队"},
	IdentifierKeywords: []string{"L2"},
	IDTokens:           []string{"ID"},
	SummaryPhrases:     []string{"合计", "Total"},
}

type zeroScorer struct{}

func (zeroScorer) Score([]string) float64 { return 0 }

func TestKeywordScorer(t *testing.T) {
	s := NewKeywordScorer(testKeywords)

	tests := []struct {
		name  string
		cells []string
		want  float64
	}{
		{"identifier cell", []string{"L2 ID"}, 5.5},
		{"keyword cell", []string{"应用名称"}, 1.5},
		{"plain cell", []string{"监管年"}, 0.5},
		{"blanks ignored", []string{"", "", ""}, 0},
		{"row", []string{"L2 ID", "应用名称", "", "负责团队"}, 8.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(tt.cells), 1e-9)
		})
	}
}

func TestLocateHeaderBelowPreamble(t *testing.T) {
	rows := [][]any{{"2024年应用改造进度跟踪表"}}
	for i := 1; i < 25; i++ {
		if i%2 == 0 {
			rows = append(rows, []any{nil})
		} else {
			rows = append(rows, []any{strings.Repeat("填写说明", 15)})
		}
	}
	rows = append(rows,
		[]any{"L2 ID", "应用名称", "监管年", "负责团队"},
		[]any{"L2_1", "支付", 2024.0, "核心"},
		[]any{"L2_2", "用户中心", 2024.0, "平台"},
	)

	loc := NewRegionLocator(DefaultLocatorConfig(), testKeywords, nil)
	got, err := loc.Locate(NewMemorySheet("s", rows))
	require.NoError(t, err)

	assert.Equal(t, 25, got.Row)
	assert.Equal(t, 26, got.Line())
	assert.Equal(t, HeaderByKeyword, got.Method)
	assert.Equal(t, []string{"L2 ID", "应用名称", "监管年", "负责团队"}, got.Cells)
}

func TestLocateSkipsNonHeaderRows(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]any
		wantRow int
	}{
		{
			name: "instruction row",
			rows: [][]any{
				{strings.Repeat("请", 55) + " L2 ID 应用名称 负责团队"},
				{"L2 ID", "名称"},
			},
			wantRow: 1,
		},
		{
			name: "summary row",
			rows: [][]any{
				{"合计", "L2 ID", "应用名称", "负责团队"},
				{"L2 ID", "名称"},
			},
			wantRow: 1,
		},
		{
			name: "summary label mid row",
			rows: [][]any{
				{"应用数量", 12.0, "合计", 60.0},
				{"L2 ID", "名称"},
			},
			wantRow: 1,
		},
		{
			name: "header with a totals column",
			rows: [][]any{
				{"说明"},
				{"L2 ID", "名称", "Total 团队"},
			},
			wantRow: 1,
		},
		{
			name: "data dominated row",
			rows: [][]any{
				{"L2 ID", 1.0, 2.0, "2024-01-15"},
				{"L2 ID", "名称"},
			},
			wantRow: 1,
		},
		{
			name: "highest score wins",
			rows: [][]any{
				{"名称", "团队", "ID"},
				{"L2 ID", "名称", "团队"},
			},
			wantRow: 1,
		},
	}

	loc := NewRegionLocator(DefaultLocatorConfig(), testKeywords, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := loc.LocateRows(tt.rows)
			assert.Equal(t, tt.wantRow, got.Row)
			assert.Equal(t, HeaderByKeyword, got.Method)
		})
	}
}

func TestIsSummary(t *testing.T) {
	tests := []struct {
		name string
		row  []any
		want bool
	}{
		{"leading label", []any{"合计", "L2 ID", "应用名称"}, true},
		{"leading label after blanks", []any{"", " ", "Total:", 3.0}, true},
		{"label among figures", []any{"应用数量", 12.0, "合计", 60.0}, true},
		{"label among numeric text", []any{"数量", "12", "", "total", "60"}, true},
		{"label among headers", []any{"L2 ID", "名称", "Total 团队"}, false},
		{"figures without label", []any{"数量", 12.0, 60.0}, false},
		{"half figures", []any{"L2 ID", "名称", "合计", 60.0}, false},
		{"empty", []any{"", nil}, false},
	}

	loc := NewRegionLocator(DefaultLocatorConfig(), testKeywords, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loc.isSummary(tt.row, rowStrings(tt.row)))
		})
	}
}

func TestLocateFallbacks(t *testing.T) {
	loc := NewRegionLocator(DefaultLocatorConfig(), testKeywords, zeroScorer{})

	t.Run("structural", func(t *testing.T) {
		got := loc.LocateRows([][]any{
			{"说明"},
			{"a1", "b2", "c3", "d4", "e5", "f6", "g7", "h8"},
			{"x", "y"},
		})
		assert.Equal(t, 1, got.Row)
		assert.Equal(t, HeaderByStructure, got.Method)
	})

	t.Run("repeated cells are not structural", func(t *testing.T) {
		got := loc.LocateRows([][]any{
			{nil},
			{"a", "a", "a", "a", "a", "a", "a", "a"},
		})
		assert.Equal(t, 1, got.Row)
		assert.Equal(t, HeaderByFirstRow, got.Method)
	})

	t.Run("first non-empty row", func(t *testing.T) {
		got := loc.LocateRows([][]any{{nil, " "}, {"only", "two"}})
		assert.Equal(t, 1, got.Row)
		assert.Equal(t, HeaderByFirstRow, got.Method)
		assert.True(t, got.Found())
	})

	t.Run("nothing", func(t *testing.T) {
		got := loc.LocateRows([][]any{{nil}, {""}})
		assert.Equal(t, HeaderNotAvailable, got.Method)
		assert.False(t, got.Found())
	})
}

func TestLocateRespectsScanWindow(t *testing.T) {
	cfg := DefaultLocatorConfig()
	cfg.ScanRows = 3
	rows := [][]any{{"x"}, {nil}, {nil}, {"L2 ID", "名称"}}

	got := NewRegionLocator(cfg, testKeywords, nil).LocateRows(rows)
	assert.Equal(t, 0, got.Row)
	assert.Equal(t, HeaderByFirstRow, got.Method)
}

func TestIsDataCell(t *testing.T) {
	for _, c := range []any{1.0, "2024-01-15", "2024/1/5 10:00", "1,234", "85%", true} {
		assert.True(t, isDataCell(c), "%v", c)
	}
	for _, c := range []any{"L2 ID", "应用名称", "Q3"} {
		assert.False(t, isDataCell(c), "%v", c)
	}
}
