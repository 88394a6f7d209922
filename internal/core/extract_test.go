package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appHeader = []any{"L2 ID", "应用名称", "监管年", "状态更新时间", "进度", "其他"}

func newTestExtractor(t *testing.T, rows [][]any, cfg ExtractConfig) *Extractor {
	t.Helper()
	def, _ := Lookup(KindApplication)
	vocab := testVocab(t, KindApplication)
	sheet := NewMemorySheet("应用", rows)
	header := HeaderCandidate{Row: 0, Cells: rowStrings(rows[0]), Method: HeaderByKeyword}
	return NewExtractor(sheet, def, header, MapHeaders(header.Cells, vocab), cfg)
}

func TestExtractAllBuildsRecords(t *testing.T) {
	rows := [][]any{
		appHeader,
		{"L2_1", "支付", "2024", "已完成", "60%", nil},
		{nil, " ", nil},
		{"L2_2", "用户中心", "明年", 45000.5, 85.0, nil},
		{nil, nil, nil, nil, nil, "only unmapped"},
	}
	ext := newTestExtractor(t, rows, DefaultExtractConfig())

	recs, st, err := ext.ExtractAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, 2, recs[0].Line())
	assert.Equal(t, 4, recs[1].Line())
	assert.Equal(t, StopEndOfSheet, st.StopReason)
	assert.Equal(t, 4, st.Processed)
	assert.Equal(t, 2, st.Records)

	progress, _ := recs[0].Get("progress_percentage")
	assert.Equal(t, IntValue(60), progress)
	ts, _ := recs[0].Get("status_updated_at")
	assert.False(t, ts.Valid, "status label leaves the timestamp empty")

	year, _ := recs[1].Get("supervision_year")
	assert.False(t, year.Valid, "unreadable integer is left empty")
	ts, _ = recs[1].Get("status_updated_at")
	assert.True(t, ts.Valid)

	require.Len(t, st.Issues, 2)
	assert.Equal(t, CodeStatusInTimestamp, st.Issues[0].Code)
	assert.Equal(t, 2, st.Issues[0].Row)
	assert.Equal(t, "状态更新时间", st.Issues[0].Column)
	assert.Equal(t, CodeCoercion, st.Issues[1].Code)
	assert.Equal(t, 4, st.Issues[1].Row)
	assert.Equal(t, "明年", st.Issues[1].Value)
}

func dataRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("L2_%d", i+1), "app"}
	}
	return rows
}

func TestExtractStopsOnEmptyRun(t *testing.T) {
	rows := append([][]any{appHeader}, dataRows(3)...)
	rows = append(rows, []any{nil}, []any{nil}, []any{nil})
	rows = append(rows, dataRows(2)...)

	cfg := DefaultExtractConfig()
	cfg.EmptyRowStop = 3
	cfg.ChunkSize = 2

	recs, st, err := newTestExtractor(t, rows, cfg).ExtractAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, StopEmptyRun, st.StopReason)
	assert.Equal(t, 7, st.NextRow)
}

func TestExtractMaxRows(t *testing.T) {
	rows := append([][]any{appHeader}, dataRows(10)...)
	cfg := DefaultExtractConfig()
	cfg.MaxRows = 4
	cfg.ChunkSize = 3

	recs, st, err := newTestExtractor(t, rows, cfg).ExtractAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 4)
	assert.Equal(t, StopMaxRows, st.StopReason)
	assert.Equal(t, 4, st.Processed)
}

func TestExtractNarrowsLargeSheet(t *testing.T) {
	rows := append([][]any{appHeader}, dataRows(100)...)
	for len(rows) < 1000 {
		rows = append(rows, []any{nil})
	}
	cfg := DefaultExtractConfig()
	cfg.LargeSheetRows = 500
	cfg.SampleWindow = 50
	cfg.EmptyRowStop = 100000

	ext := newTestExtractor(t, rows, cfg)
	st, err := ext.Start()
	require.NoError(t, err)
	assert.True(t, st.Narrowed)
	assert.Equal(t, 500, st.UpperBound)

	recs, st, err := ext.ExtractAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 100)
	assert.Equal(t, StopUpperBound, st.StopReason)
	assert.Equal(t, 500, st.NextRow)
}

func TestExtractDoesNotNarrowDenseSheet(t *testing.T) {
	rows := append([][]any{appHeader}, dataRows(999)...)
	cfg := DefaultExtractConfig()
	cfg.LargeSheetRows = 500
	cfg.SampleWindow = 50

	st, err := newTestExtractor(t, rows, cfg).Start()
	require.NoError(t, err)
	assert.False(t, st.Narrowed)
	assert.Equal(t, -1, st.UpperBound)
}

func TestExtractChunksShareState(t *testing.T) {
	rows := append([][]any{appHeader}, dataRows(7)...)
	cfg := DefaultExtractConfig()
	cfg.ChunkSize = 3
	ext := newTestExtractor(t, rows, cfg)

	st, err := ext.Start()
	require.NoError(t, err)

	var sizes []int
	for !st.Done {
		recs, err := ext.NextChunk(st)
		require.NoError(t, err)
		sizes = append(sizes, len(recs))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)

	again, err := ext.NextChunk(st)
	require.NoError(t, err)
	assert.Nil(t, again)

	st2, _ := ext.Start()
	var lines []int
	for rec, err := range ext.Records(st2) {
		require.NoError(t, err)
		lines = append(lines, rec.Line())
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8}, lines)
}

func TestExtractWithoutHeader(t *testing.T) {
	def, _ := Lookup(KindApplication)
	ext := NewExtractor(NewMemorySheet("s", nil), def, HeaderCandidate{Method: HeaderNotAvailable}, &FieldMapping{}, DefaultExtractConfig())

	recs, st, err := ext.ExtractAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.True(t, st.Done)
}

func TestExtractHonorsCancellation(t *testing.T) {
	rows := append([][]any{appHeader}, dataRows(5)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestExtractor(t, rows, DefaultExtractConfig()).ExtractAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
