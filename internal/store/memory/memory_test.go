package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

func text(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

func app(l2, name string) *core.ApplicationRecord {
	return &core.ApplicationRecord{L2ID: text(l2), AppName: text(name)}
}

func TestCommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids, err := tx.InsertApplications(ctx, []*core.ApplicationRecord{app("L2_1", "A"), app("L2_2", "B")})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	assert.Empty(t, s.Applications(), "uncommitted writes must not be visible")
	require.NoError(t, tx.Commit(ctx))

	got, ok := s.Application("L2_2")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, "B", got.Record.AppName.String)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertApplications(ctx, []*core.ApplicationRecord{app("L2_1", "A")})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, s.Applications())
	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(ctx), ErrTxDone)
}

func TestUpdateKeepsStoredValuesForNullFields(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.Begin(ctx)
	first := app("L2_1", "Old name")
	first.ResponsibleTeam = text("Core")
	ids, err := tx.InsertApplications(ctx, []*core.ApplicationRecord{first})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, _ = s.Begin(ctx)
	require.NoError(t, tx.UpdateApplications(ctx, []core.ApplicationWrite{{ID: ids[0], Record: app("L2_1", "New name")}}))
	require.NoError(t, tx.Commit(ctx))

	got, _ := s.Application("L2_1")
	assert.Equal(t, "New name", got.Record.AppName.String)
	assert.Equal(t, "Core", got.Record.ResponsibleTeam.String)
}

func TestInsertRejectsDuplicatesAndOrphans(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, _ := s.Begin(ctx)
	defer tx.Rollback(ctx)

	_, err := tx.InsertApplications(ctx, []*core.ApplicationRecord{app("L2_1", "A"), app("L2_1", "A")})
	require.Error(t, err)
	assert.Equal(t, "DB001", core.MapError(err).Code)

	task := &core.SubTaskRecord{ApplicationL2ID: text("L2_X"), ModuleName: text("m"), SubTarget: text("AK")}
	err = tx.InsertSubTasks(ctx, []core.SubTaskWrite{{ApplicationID: 99, Record: task}})
	require.Error(t, err)
	assert.Equal(t, "DB003", core.MapError(err).Code)
}

func TestFindSubTasksByApplication(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, _ := s.Begin(ctx)

	ids, err := tx.InsertApplications(ctx, []*core.ApplicationRecord{app("L2_1", "A"), app("L2_2", "B")})
	require.NoError(t, err)
	tasks := []core.SubTaskWrite{
		{ApplicationID: ids[0], Record: &core.SubTaskRecord{ApplicationL2ID: text("L2_1"), ModuleName: text("pay"), SubTarget: text("AK")}},
		{ApplicationID: ids[1], Record: &core.SubTaskRecord{ApplicationL2ID: text("L2_2"), ModuleName: text("auth"), SubTarget: text("AK")}},
	}
	require.NoError(t, tx.InsertSubTasks(ctx, tasks))

	found, err := tx.FindSubTasks(ctx, []string{"L2_1"})
	require.NoError(t, err)
	assert.Equal(t, map[core.SubTaskKey]int64{{L2ID: "L2_1", ModuleName: "pay", SubTarget: "AK"}: 1}, found)
	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, s.SubTasks(), 2)
}

func TestFailOnFiresOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.FailOn("commit", boom)

	tx, _ := s.Begin(ctx)
	_, err := tx.InsertApplications(ctx, []*core.ApplicationRecord{app("L2_1", "A")})
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Commit(ctx), boom)
	assert.Empty(t, s.Applications())

	tx, _ = s.Begin(ctx)
	_, err = tx.InsertApplications(ctx, []*core.ApplicationRecord{app("L2_1", "A")})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, s.Applications(), 1)
}

func TestBeginWaitsForActiveTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Rollback(ctx))
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback(ctx))
}
