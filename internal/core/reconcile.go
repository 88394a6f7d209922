package core

// reconcile.go resolves natural keys against the store and writes a batch.
//
// Children reference parents by l2 identifier. Parents missing from the
// store are allocated in a parentArena and addressed by negative handles
// until the arena is flushed; after the flush every handle is resolved in
// one pass, and only then are children written. The caller owns the
// transaction, so either the whole batch commits or nothing does.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ParentRef identifies a parent within one batch: a positive storage id or
// a negative deferred handle into the batch's parent arena.
type ParentRef int64

// Deferred reports whether the reference still needs resolving.
func (r ParentRef) Deferred() bool { return r < 0 }

// PendingParent is a placeholder parent awaiting its storage id.
type PendingParent struct {
	Record *ApplicationRecord
	ID     int64
}

// parentArena allocates placeholder parents. Handle -(i+1) addresses
// pending[i].
type parentArena struct {
	pending []PendingParent
	byL2    map[string]ParentRef
}

func newParentArena() *parentArena {
	return &parentArena{byL2: make(map[string]ParentRef)}
}

// reserve returns the handle for l2, allocating a placeholder on first use.
func (a *parentArena) reserve(l2 string, build func() *ApplicationRecord) ParentRef {
	if ref, ok := a.byL2[l2]; ok {
		return ref
	}
	a.pending = append(a.pending, PendingParent{Record: build()})
	ref := ParentRef(-len(a.pending))
	a.byL2[l2] = ref
	return ref
}

func (a *parentArena) records() []*ApplicationRecord {
	out := make([]*ApplicationRecord, len(a.pending))
	for i, p := range a.pending {
		out[i] = p.Record
	}
	return out
}

// assign stores the ids returned by the flush, in arena order.
func (a *parentArena) assign(ids []int64) error {
	if len(ids) != len(a.pending) {
		return fmt.Errorf("%w: %d placeholders flushed, %d ids returned", ErrUnresolvedDeferred, len(a.pending), len(ids))
	}
	for i, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: placeholder %q got id %d", ErrUnresolvedDeferred, a.pending[i].Record.L2ID.String, id)
		}
		a.pending[i].ID = id
	}
	return nil
}

func (a *parentArena) resolve(ref ParentRef) (int64, error) {
	if !ref.Deferred() {
		return int64(ref), nil
	}
	i := int(-ref) - 1
	if i < 0 || i >= len(a.pending) || a.pending[i].ID <= 0 {
		return 0, fmt.Errorf("%w: handle %d", ErrUnresolvedDeferred, ref)
	}
	return a.pending[i].ID, nil
}

// Reconciler writes validated records inside a caller-owned transaction.
type Reconciler struct {
	now func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{now: time.Now}
}

// WithClock replaces the clock used for placeholder defaults.
func (rc *Reconciler) WithClock(now func() time.Time) *Reconciler {
	rc.now = now
	return rc
}

// ReconcileApplications inserts new applications and updates existing ones
// by l2 identifier.
func (rc *Reconciler) ReconcileApplications(ctx context.Context, tx Tx, apps []*ApplicationRecord) (WriteCounts, error) {
	var counts WriteCounts
	if len(apps) == 0 {
		return counts, nil
	}

	ids := make([]string, 0, len(apps))
	seen := make(map[string]int, len(apps))
	for _, app := range apps {
		l2 := strings.TrimSpace(app.L2ID.String)
		if !app.L2ID.Valid || l2 == "" {
			return counts, &ConflictError{Reason: fmt.Sprintf("row %d has no l2 identifier", app.Row)}
		}
		if first, dup := seen[l2]; dup {
			return counts, &ConflictError{Key: l2, Reason: fmt.Sprintf("duplicate key in rows %d and %d", first, app.Row)}
		}
		seen[l2] = app.Row
		app.L2ID = pgtype.Text{String: l2, Valid: true}
		ids = append(ids, l2)
	}

	existing, err := tx.FindApplications(ctx, ids)
	if err != nil {
		return counts, storeErr("find applications", err)
	}

	var inserts []*ApplicationRecord
	var updates []ApplicationWrite
	for _, app := range apps {
		if id, ok := existing[app.L2ID.String]; ok {
			updates = append(updates, ApplicationWrite{ID: id, Record: app})
		} else {
			inserts = append(inserts, app)
		}
	}

	if len(inserts) > 0 {
		newIDs, err := tx.InsertApplications(ctx, inserts)
		if err != nil {
			return counts, storeErr("insert applications", err)
		}
		if len(newIDs) != len(inserts) {
			return counts, &PersistenceError{Op: "insert applications", Err: fmt.Errorf("%d rows inserted, %d ids returned", len(inserts), len(newIDs))}
		}
	}
	if len(updates) > 0 {
		if err := tx.UpdateApplications(ctx, updates); err != nil {
			return counts, storeErr("update applications", err)
		}
	}

	counts.Created = len(inserts)
	counts.Updated = len(updates)
	return counts, nil
}

// ReconcileSubTasks resolves each subtask's application, creating one
// placeholder application per unknown l2 identifier, then inserts new
// subtasks and updates existing ones.
func (rc *Reconciler) ReconcileSubTasks(ctx context.Context, tx Tx, tasks []*SubTaskRecord) (WriteCounts, error) {
	var counts WriteCounts
	if len(tasks) == 0 {
		return counts, nil
	}

	var l2s []string
	seenL2 := make(map[string]bool)
	seenKey := make(map[SubTaskKey]int, len(tasks))
	for _, t := range tasks {
		if !t.ApplicationL2ID.Valid || strings.TrimSpace(t.ApplicationL2ID.String) == "" {
			return counts, &ConflictError{Reason: fmt.Sprintf("row %d has no application l2 identifier", t.Row)}
		}
		t.ApplicationL2ID.String = strings.TrimSpace(t.ApplicationL2ID.String)
		key := t.Key()
		if first, dup := seenKey[key]; dup {
			return counts, &ConflictError{Key: key.String(), Reason: fmt.Sprintf("duplicate key in rows %d and %d", first, t.Row)}
		}
		seenKey[key] = t.Row
		if !seenL2[key.L2ID] {
			seenL2[key.L2ID] = true
			l2s = append(l2s, key.L2ID)
		}
	}

	parents, err := tx.FindApplications(ctx, l2s)
	if err != nil {
		return counts, storeErr("find applications", err)
	}

	arena := newParentArena()
	refs := make([]ParentRef, len(tasks))
	for i, t := range tasks {
		l2 := t.ApplicationL2ID.String
		if id, ok := parents[l2]; ok {
			refs[i] = ParentRef(id)
			continue
		}
		refs[i] = arena.reserve(l2, func() *ApplicationRecord { return rc.placeholder(t) })
	}

	if len(arena.pending) > 0 {
		ids, err := tx.InsertApplications(ctx, arena.records())
		if err != nil {
			return counts, storeErr("insert placeholder applications", err)
		}
		if err := arena.assign(ids); err != nil {
			return counts, err
		}
	}

	existing, err := tx.FindSubTasks(ctx, l2s)
	if err != nil {
		return counts, storeErr("find subtasks", err)
	}

	var inserts, updates []SubTaskWrite
	for i, t := range tasks {
		appID, err := arena.resolve(refs[i])
		if err != nil {
			return counts, err
		}
		w := SubTaskWrite{ApplicationID: appID, Record: t}
		if id, ok := existing[t.Key()]; ok {
			w.ID = id
			updates = append(updates, w)
		} else {
			inserts = append(inserts, w)
		}
	}

	if len(inserts) > 0 {
		if err := tx.InsertSubTasks(ctx, inserts); err != nil {
			return counts, storeErr("insert subtasks", err)
		}
	}
	if len(updates) > 0 {
		if err := tx.UpdateSubTasks(ctx, updates); err != nil {
			return counts, storeErr("update subtasks", err)
		}
	}

	counts.Created = len(inserts)
	counts.Updated = len(updates)
	counts.ParentsCreated = len(arena.pending)
	return counts, nil
}

// placeholder builds the minimal application a subtask needs. The target
// follows the first subtask that referenced it.
func (rc *Reconciler) placeholder(t *SubTaskRecord) *ApplicationRecord {
	now := rc.now()
	l2 := t.ApplicationL2ID.String
	target := TargetAK
	if t.SubTarget.Valid && t.SubTarget.String != "" {
		target = t.SubTarget.String
	}
	return &ApplicationRecord{
		Row:                    t.Row,
		L2ID:                   pgtype.Text{String: l2, Valid: true},
		AppName:                pgtype.Text{String: l2, Valid: true},
		SupervisionYear:        pgtype.Int8{Int64: int64(now.Year()), Valid: true},
		TransformationTarget:   pgtype.Text{String: target, Valid: true},
		OverallStatus:          pgtype.Text{String: StatusNotStarted, Valid: true},
		ResponsibleTeam:        pgtype.Text{String: TeamUnassigned, Valid: true},
		ProgressPercentage:     pgtype.Int8{Int64: 0, Valid: true},
		IsAKCompleted:          pgtype.Bool{Bool: false, Valid: true},
		IsCloudNativeCompleted: pgtype.Bool{Bool: false, Valid: true},
		StatusUpdatedAt:        pgtype.Timestamptz{Time: now, Valid: true},
	}
}
