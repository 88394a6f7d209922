package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/store/memory"
)

var fixedNow = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

func text(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

func task(row int, l2, module, target string) *core.SubTaskRecord {
	return &core.SubTaskRecord{Row: row, ApplicationL2ID: text(l2), ModuleName: text(module), SubTarget: text(target)}
}

// reconcile runs fn in one committed transaction.
func reconcile(t *testing.T, s *memory.Store, fn func(ctx context.Context, tx core.Tx) (core.WriteCounts, error)) (core.WriteCounts, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	counts, err := fn(ctx, tx)
	if err != nil {
		require.NoError(t, tx.Rollback(ctx))
		return counts, err
	}
	require.NoError(t, tx.Commit(ctx))
	return counts, nil
}

func TestReconcileSubTasksCreatesOnePlaceholderPerParent(t *testing.T) {
	s := memory.New()
	rc := core.NewReconciler().WithClock(func() time.Time { return fixedNow })

	counts, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileSubTasks(ctx, tx, []*core.SubTaskRecord{
			task(2, "L2_999", "支付", core.TargetCloudNative),
			task(3, " L2_999 ", "对账", core.TargetAK),
			task(4, "L2_999", "清算", core.TargetAK),
		})
	})
	require.NoError(t, err)
	assert.Equal(t, core.WriteCounts{Created: 3, ParentsCreated: 1}, counts)

	apps := s.Applications()
	require.Len(t, apps, 1)
	p := apps[0].Record
	assert.Equal(t, "L2_999", p.L2ID.String)
	assert.Equal(t, "L2_999", p.AppName.String)
	assert.Equal(t, int64(2025), p.SupervisionYear.Int64)
	assert.Equal(t, core.TargetCloudNative, p.TransformationTarget.String, "target follows the first subtask")
	assert.Equal(t, core.StatusNotStarted, p.OverallStatus.String)
	assert.Equal(t, core.TeamUnassigned, p.ResponsibleTeam.String)
	assert.True(t, p.ProgressPercentage.Valid)
	assert.Equal(t, int64(0), p.ProgressPercentage.Int64)
	assert.True(t, p.IsAKCompleted.Valid)
	assert.False(t, p.IsAKCompleted.Bool)
	assert.Equal(t, fixedNow, p.StatusUpdatedAt.Time)

	for _, st := range s.SubTasks() {
		assert.Equal(t, apps[0].ID, st.ApplicationID)
	}
}

func TestReconcileSubTasksUsesExistingParents(t *testing.T) {
	s := memory.New()
	rc := core.NewReconciler()

	_, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileApplications(ctx, tx, []*core.ApplicationRecord{{Row: 2, L2ID: text("L2_1"), AppName: text("支付系统")}})
	})
	require.NoError(t, err)

	counts, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileSubTasks(ctx, tx, []*core.SubTaskRecord{
			task(2, "L2_1", "支付", "AK"),
			task(3, "L2_2", "用户", "AK"),
		})
	})
	require.NoError(t, err)
	assert.Equal(t, core.WriteCounts{Created: 2, ParentsCreated: 1}, counts)

	app, ok := s.Application("L2_1")
	require.True(t, ok)
	assert.Equal(t, "支付系统", app.Record.AppName.String, "existing parent untouched")
	assert.Len(t, s.Applications(), 2)
}

func TestReconcileIsIdempotent(t *testing.T) {
	s := memory.New()
	rc := core.NewReconciler()
	batch := func() []*core.SubTaskRecord {
		return []*core.SubTaskRecord{task(2, "L2_1", "支付", "AK"), task(3, "L2_1", "支付", "云原生")}
	}

	first, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileSubTasks(ctx, tx, batch())
	})
	require.NoError(t, err)
	second, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileSubTasks(ctx, tx, batch())
	})
	require.NoError(t, err)

	assert.Equal(t, core.WriteCounts{Created: 2, ParentsCreated: 1}, first)
	assert.Equal(t, core.WriteCounts{Updated: 2}, second)
	assert.Len(t, s.SubTasks(), 2)
	assert.Len(t, s.Applications(), 1)
}

func TestReconcileApplicationsUpdatesOnlyPresentFields(t *testing.T) {
	s := memory.New()
	rc := core.NewReconciler()

	_, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileApplications(ctx, tx, []*core.ApplicationRecord{
			{Row: 2, L2ID: text("L2_1"), AppName: text("旧名称"), ResponsibleTeam: text("核心团队")},
		})
	})
	require.NoError(t, err)

	counts, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileApplications(ctx, tx, []*core.ApplicationRecord{
			{Row: 2, L2ID: text("L2_1"), AppName: text("新名称")},
			{Row: 3, L2ID: text("L2_2"), AppName: text("用户中心")},
		})
	})
	require.NoError(t, err)
	assert.Equal(t, core.WriteCounts{Created: 1, Updated: 1}, counts)

	app, _ := s.Application("L2_1")
	assert.Equal(t, "新名称", app.Record.AppName.String)
	assert.Equal(t, "核心团队", app.Record.ResponsibleTeam.String)
}

func TestReconcileRejectsDuplicateKeys(t *testing.T) {
	s := memory.New()
	rc := core.NewReconciler()

	_, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileSubTasks(ctx, tx, []*core.SubTaskRecord{
			task(2, "L2_1", "支付", "AK"),
			task(5, "L2_1", "支付", "AK"),
		})
	})
	var ce *core.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Retryable)
	assert.Contains(t, ce.Error(), "rows 2 and 5")
	assert.Empty(t, s.Applications(), "placeholder work is rolled back")

	_, err = reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileApplications(ctx, tx, []*core.ApplicationRecord{{Row: 2}})
	})
	require.ErrorAs(t, err, &ce)
}

func TestReconcileWrapsStoreFailures(t *testing.T) {
	s := memory.New()
	rc := core.NewReconciler()
	s.FailOn("insert_subtasks", errors.New("disk full"))

	_, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileSubTasks(ctx, tx, []*core.SubTaskRecord{task(2, "L2_1", "支付", "AK")})
	})
	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "insert subtasks", pe.Op)
	assert.Empty(t, s.Applications())
	assert.Empty(t, s.SubTasks())
}

func TestReconcilePassesConflictsThrough(t *testing.T) {
	s := memory.New()
	rc := core.NewReconciler()
	s.FailOn("find_applications", &core.ConflictError{Reason: "serialization failure", Retryable: true})

	_, err := reconcile(t, s, func(ctx context.Context, tx core.Tx) (core.WriteCounts, error) {
		return rc.ReconcileApplications(ctx, tx, []*core.ApplicationRecord{{Row: 2, L2ID: text("L2_1")}})
	})
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, "REC002", core.MapError(err).Code)
}
