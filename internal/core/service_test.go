package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/store/memory"
)

func newService(t *testing.T, s core.Store) *core.Service {
	t.Helper()
	svc, err := core.NewService(s, nil, core.DefaultServiceConfig())
	require.NoError(t, err)
	return svc
}

func template(t *testing.T, svc *core.Service, kind core.EntityKind, samples bool) []byte {
	t.Helper()
	data, err := svc.GenerateTemplate(kind, samples)
	require.NoError(t, err)
	return data
}

const appsCSV = "L2 ID,应用名称,监管年,转型目标,负责团队\n" +
	"L2_1,支付系统,2024,AK,核心团队\n" +
	"L2_2,,2024,云原生,平台团队\n"

func TestIngestEmptyTemplate(t *testing.T) {
	s := memory.New()
	svc := newService(t, s)

	for _, kind := range core.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			res, err := svc.Ingest(context.Background(), template(t, svc, kind, false), core.IngestOptions{Kind: kind})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, 0, res.TotalRows)
			assert.Empty(t, res.Errors)
			assert.Empty(t, res.Unmapped)
			assert.Equal(t, 1, res.HeaderRow)
		})
	}
	assert.Empty(t, s.Applications())
}

func TestIngestSampleTemplateTwice(t *testing.T) {
	s := memory.New()
	svc := newService(t, s)
	data := template(t, svc, core.KindApplication, true)
	opts := core.IngestOptions{Kind: core.KindApplication, FileName: "apps.xlsx"}

	first, err := svc.Ingest(context.Background(), data, opts)
	require.NoError(t, err)
	require.True(t, first.Success, "errors: %+v", first.Errors)
	assert.Equal(t, 2, first.TotalRows)
	assert.Equal(t, 2, first.ProcessedRows)
	assert.Equal(t, 0, first.UpdatedRows)
	assert.NotEmpty(t, first.IngestionID)

	second, err := svc.Ingest(context.Background(), data, opts)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.ProcessedRows)
	assert.Equal(t, 2, second.UpdatedRows)
	assert.NotEqual(t, first.IngestionID, second.IngestionID)

	app, ok := s.Application("L2_APP_002")
	require.True(t, ok)
	assert.Equal(t, "用户中心", app.Record.AppName.String)
	assert.Len(t, s.Applications(), 2)
}

func TestIngestSubTasksCreatesParent(t *testing.T) {
	s := memory.New()
	svc := newService(t, s)

	res, err := svc.Ingest(context.Background(), template(t, svc, core.KindSubTask, true), core.IngestOptions{Kind: core.KindSubTask})
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %+v", res.Errors)
	assert.Equal(t, 2, res.ProcessedRows)
	assert.Equal(t, 1, res.CreatedParents)

	apps := s.Applications()
	require.Len(t, apps, 1)
	assert.Equal(t, "L2_APP_001", apps[0].Record.L2ID.String)
	assert.Equal(t, core.TeamUnassigned, apps[0].Record.ResponsibleTeam.String)
	assert.Len(t, s.SubTasks(), 2)
}

func TestIngestCombinedTemplate(t *testing.T) {
	s := memory.New()
	svc := newService(t, s)
	data, err := svc.GenerateCombinedTemplate(true)
	require.NoError(t, err)

	tests := []struct {
		kind      core.EntityKind
		wantSheet string
		wantRows  int
	}{
		{core.KindApplication, "应用导入模板", 2},
		{core.KindSubTask, "子任务导入模板", 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			res, err := svc.Ingest(context.Background(), data, core.IngestOptions{Kind: tt.kind})
			require.NoError(t, err)
			require.True(t, res.Success, "errors: %+v", res.Errors)
			assert.Equal(t, tt.wantSheet, res.Sheet)
			assert.Equal(t, 1, res.HeaderRow)
			assert.Equal(t, tt.wantRows, res.ProcessedRows)
			assert.Empty(t, res.Unmapped)
		})
	}

	assert.Len(t, s.Applications(), 2)
	assert.Len(t, s.SubTasks(), 2)
	app, ok := s.Application("L2_APP_001")
	require.True(t, ok)
	assert.Equal(t, "核心技术团队", app.Record.ResponsibleTeam.String, "parent came from the application sheet")
}

func TestIngestWriteFailureLeavesStoreEmpty(t *testing.T) {
	s := memory.New()
	svc := newService(t, s)
	s.FailOn("insert_subtasks", errors.New("boom"))

	res, err := svc.Ingest(context.Background(), template(t, svc, core.KindSubTask, true), core.IngestOptions{Kind: core.KindSubTask})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "DB009", core.MapError(err).Code)
	assert.Empty(t, s.Applications())
	assert.Empty(t, s.SubTasks())

	// the store is usable again after the rollback
	res, err = svc.Ingest(context.Background(), template(t, svc, core.KindSubTask, true), core.IngestOptions{Kind: core.KindSubTask})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CreatedParents)
}

func TestIngestRowErrors(t *testing.T) {
	t.Run("all or nothing", func(t *testing.T) {
		s := memory.New()
		res, err := newService(t, s).Ingest(context.Background(), []byte(appsCSV), core.IngestOptions{Kind: core.KindApplication})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 2, res.TotalRows)
		assert.Equal(t, 2, res.SkippedRows)
		assert.Equal(t, 0, res.ProcessedRows)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, core.CodeRequired, res.Errors[0].Code)
		assert.Equal(t, 3, res.Errors[0].Row)
		assert.NotEmpty(t, res.Message)
		assert.Empty(t, s.Applications())
	})

	t.Run("skip error rows", func(t *testing.T) {
		s := memory.New()
		res, err := newService(t, s).Ingest(context.Background(), []byte(appsCSV), core.IngestOptions{Kind: core.KindApplication, SkipErrorRows: true})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.ProcessedRows)
		assert.Equal(t, 1, res.SkippedRows)
		assert.Len(t, res.Errors, 1)

		_, ok := s.Application("L2_1")
		assert.True(t, ok)
		_, ok = s.Application("L2_2")
		assert.False(t, ok)
	})
}

func TestIngestValidateOnly(t *testing.T) {
	s := memory.New()
	res, err := newService(t, s).Ingest(context.Background(), []byte(appsCSV), core.IngestOptions{Kind: core.KindApplication, ValidateOnly: true})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ProcessedRows)
	assert.Equal(t, 1, res.SkippedRows)
	require.Len(t, res.PreviewData, 1)
	assert.Equal(t, "L2_1", res.PreviewData[0]["l2_id"])
	assert.Equal(t, 2, res.PreviewData[0]["_row"])
	assert.Empty(t, s.Applications())
}

func TestIngestValidateOnlyWithoutStore(t *testing.T) {
	svc := newService(t, nil)

	res, err := svc.Ingest(context.Background(), []byte(appsCSV), core.IngestOptions{Kind: core.KindApplication, ValidateOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalRows)

	_, err = svc.Ingest(context.Background(), []byte(appsCSV), core.IngestOptions{Kind: core.KindApplication})
	assert.ErrorIs(t, err, core.ErrNoStore)
}

func TestIngestCallErrors(t *testing.T) {
	cfg := core.DefaultServiceConfig()
	cfg.MaxFileSize = 64
	svc, err := core.NewService(memory.New(), nil, cfg)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		kind core.EntityKind
		want error
	}{
		{"unknown kind", []byte(appsCSV), "invoice", core.ErrUnknownKind},
		{"too large", make([]byte, 65), core.KindApplication, core.ErrFileTooLarge},
		{"empty", []byte(" \n "), core.KindApplication, core.ErrEmptyFile},
		{"legacy xls", []byte("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1"), core.KindApplication, core.ErrInvalidWorkbook},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Ingest(context.Background(), tt.data, core.IngestOptions{Kind: tt.kind})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

func TestIngestSheetDiagnostics(t *testing.T) {
	svc := newService(t, memory.New())

	t.Run("blank sheet", func(t *testing.T) {
		res, err := svc.Ingest(context.Background(), []byte(",,\n , ,\n"), core.IngestOptions{Kind: core.KindApplication})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 0, res.TotalRows)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, core.CodeNoHeader, res.Warnings[0].Code)
		assert.Contains(t, res.Warnings[0].Message, core.ErrNoHeaderRow.Error())
	})

	t.Run("no known columns", func(t *testing.T) {
		res, err := svc.Ingest(context.Background(), []byte("foo,bar\n1,2\n"), core.IngestOptions{Kind: core.KindApplication})
		require.NoError(t, err)
		assert.False(t, res.Success)
		require.NotEmpty(t, res.Errors)
		assert.Equal(t, core.CodeNoMappedColumns, res.Errors[0].Code)
	})

	t.Run("unmapped column", func(t *testing.T) {
		data := "L2 ID,应用名称,监管年,转型目标,负责团队,内部编码\nL2_1,支付系统,2024,AK,核心团队,X1\n"
		res, err := svc.Ingest(context.Background(), []byte(data), core.IngestOptions{Kind: core.KindApplication, ValidateOnly: true})
		require.NoError(t, err)
		assert.True(t, res.Success)
		require.Len(t, res.Unmapped, 1)
		assert.Equal(t, "内部编码", res.Unmapped[0].Header)
		assert.Contains(t, codes(res.Warnings), core.CodeUnmappedColumn)
	})
}

func TestPreviewDetectsKind(t *testing.T) {
	svc := newService(t, nil)
	data := "说明：请勿修改表头\n,,\n应用L2 ID,模块名称,子目标,任务状态,工作量估算\nL2_1,支付,AK,进行中,10\nL2_1,对账,云原生,,\n"

	res, err := svc.Preview(context.Background(), []byte(data), "")
	require.NoError(t, err)
	assert.Equal(t, core.KindSubTask, res.DetectedKind)
	assert.Equal(t, 3, res.HeaderRow)
	assert.Equal(t, []string{"Sheet1"}, res.SheetNames)
	require.Len(t, res.Columns, 5)
	assert.Equal(t, "application_l2_id", res.Columns[0].Field)
	assert.Equal(t, 1, res.Columns[0].UniqueCount)
	assert.Equal(t, 1, res.Columns[4].NullCount)
	assert.Len(t, res.SampleRows, 2)
	assert.InDelta(t, 100.0, res.QualityScore, 1e-9)
}

// finishes runs fn in a goroutine and fails the test if it is still running
// after d.
func finishes(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("still running after %v", d)
	}
}

func TestHugeExponentCellDoesNotStall(t *testing.T) {
	svc := newService(t, nil)
	data := []byte("L2 ID,应用名称,监管年,转型目标,负责团队\nL2_APP_001,支付系统,1e99999999,AK,平台团队\n")

	t.Run("ingest", func(t *testing.T) {
		var (
			res *core.IngestResult
			err error
		)
		finishes(t, 5*time.Second, func() {
			res, err = svc.Ingest(context.Background(), data, core.IngestOptions{Kind: core.KindApplication, ValidateOnly: true})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.TotalRows)
		assert.NotEmpty(t, append(res.Errors, res.Warnings...))
	})

	t.Run("preview", func(t *testing.T) {
		var (
			res *core.PreviewResult
			err error
		)
		finishes(t, 5*time.Second, func() {
			res, err = svc.Preview(context.Background(), data, "")
		})
		require.NoError(t, err)
		require.Len(t, res.Columns, 5)
		assert.Equal(t, core.FieldText.String(), res.Columns[2].DetectedType)
	})
}

func TestPreviewUnknownSheet(t *testing.T) {
	svc := newService(t, nil)
	_, err := svc.Preview(context.Background(), []byte(appsCSV), "Missing")
	assert.ErrorIs(t, err, core.ErrSheetNotFound)
}

func TestKinds(t *testing.T) {
	kinds := newService(t, nil).Kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, core.KindApplication, kinds[0].Kind)
	assert.Equal(t, core.KindSubTask, kinds[1].Kind)
	assert.Contains(t, kinds[1].Headers, "应用L2 ID")
	assert.Equal(t, []string{"application_l2_id", "module_name", "sub_target"}, kinds[1].Required)
}

func codes(issues []core.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}
