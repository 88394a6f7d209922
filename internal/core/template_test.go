package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func openTemplate(t *testing.T, kind EntityKind, samples bool) (*excelize.File, string) {
	t.Helper()
	def, ok := Lookup(kind)
	require.True(t, ok)
	data, err := GenerateTemplate(def, testVocab(t, kind), samples)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, def.TemplateSheet
}

func TestGenerateTemplateHeaders(t *testing.T) {
	for _, def := range All() {
		t.Run(string(def.Kind), func(t *testing.T) {
			f, sheet := openTemplate(t, def.Kind, false)
			assert.Equal(t, []string{sheet}, f.GetSheetList())

			rows, err := f.GetRows(sheet)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, testVocab(t, def.Kind).Headers(), rows[0])
		})
	}
}

func TestGenerateTemplateSamples(t *testing.T) {
	f, sheet := openTemplate(t, KindSubTask, true)

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	vocab := testVocab(t, KindSubTask)
	m := MapHeaders(rows[0], vocab)
	col := func(field string) int {
		for _, c := range m.Columns {
			if c.Field == field {
				return c.Column
			}
		}
		t.Fatalf("no column for %s", field)
		return -1
	}
	assert.Equal(t, "L2_APP_001", rows[1][col("application_l2_id")])
	assert.Equal(t, "对账模块", rows[2][col("module_name")])
	assert.Equal(t, "120", rows[1][col("work_estimate")])
}

func TestGenerateCombinedTemplate(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	data, err := GenerateCombinedTemplate(All(), cat, true)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	var want []string
	for _, def := range All() {
		want = append(want, def.TemplateSheet)
	}
	assert.Equal(t, want, f.GetSheetList())
	assert.Equal(t, 0, f.GetActiveSheetIndex())

	for _, def := range All() {
		rows, err := f.GetRows(def.TemplateSheet)
		require.NoError(t, err)
		require.Len(t, rows, 1+len(def.Samples))
		assert.Equal(t, testVocab(t, def.Kind).Headers(), rows[0])
	}

	_, err = GenerateCombinedTemplate(nil, cat, false)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestGenerateTemplateStyle(t *testing.T) {
	f, sheet := openTemplate(t, KindApplication, false)

	panes, err := f.GetPanes(sheet)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)

	width, err := f.GetColWidth(sheet, "B")
	require.NoError(t, err)
	assert.Equal(t, headerWidth("应用名称"), width)
}

func TestHeaderWidth(t *testing.T) {
	assert.Equal(t, 9.0, headerWidth("L2 ID"))
	assert.Equal(t, 12.0, headerWidth("应用名称"))
	assert.Equal(t, float64(maxTemplateWidth), headerWidth(string(make([]byte, 100))))
}
