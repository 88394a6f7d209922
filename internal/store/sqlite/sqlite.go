// Package sqlite is a core.Store on SQLite through mattn/go-sqlite3.
//
// The database is opened with foreign keys on and WAL journaling. SQLite
// allows a single writer, so the pool is limited to one connection and
// transactions queue behind each other.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/store"
)

// maxParams bounds bind parameters per IN list.
const maxParams = 500

var dialect = store.Dialect{
	core.FieldText:      "TEXT",
	core.FieldInt:       "INTEGER",
	core.FieldBool:      "BOOLEAN",
	core.FieldDate:      "DATE",
	core.FieldTimestamp: "TIMESTAMP",
}

// Store implements core.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens path (":memory:" for a throwaway database) and creates the
// tables if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the applications and subtasks tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	apps := append([]string{"id INTEGER PRIMARY KEY AUTOINCREMENT"},
		store.ColumnDefs(core.KindApplication, dialect, "l2_id")...)
	apps = append(apps,
		"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"UNIQUE (l2_id)",
	)

	tasks := append([]string{
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		"application_id INTEGER NOT NULL REFERENCES applications(id)",
	}, store.ColumnDefs(core.KindSubTask, dialect, "application_l2_id", "module_name", "sub_target")...)
	tasks = append(tasks,
		"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"UNIQUE (application_id, module_name, sub_target)",
	)

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", store.ApplicationsTable, strings.Join(apps, ",\n\t")),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", store.SubTasksTable, strings.Join(tasks, ",\n\t")),
		"CREATE INDEX IF NOT EXISTS idx_subtasks_l2 ON subtasks(application_l2_id)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &tx{tx: sqlTx}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

// DB exposes the handle for tests and read queries.
func (s *Store) DB() *sql.DB { return s.db }

type tx struct {
	tx *sql.Tx
}

func (t *tx) FindApplications(ctx context.Context, l2IDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(l2IDs))
	for _, chunk := range chunks(l2IDs) {
		q := fmt.Sprintf("SELECT l2_id, id FROM applications WHERE l2_id IN (%s)", store.Placeholders(1, len(chunk), false))
		rows, err := t.tx.QueryContext(ctx, q, anySlice(chunk)...)
		if err != nil {
			return nil, classify(err)
		}
		for rows.Next() {
			var l2 string
			var id int64
			if err := rows.Scan(&l2, &id); err != nil {
				rows.Close()
				return nil, err
			}
			out[l2] = id
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, classify(err)
		}
	}
	return out, nil
}

func (t *tx) InsertApplications(ctx context.Context, apps []*core.ApplicationRecord) ([]int64, error) {
	cols := store.Columns(core.KindApplication)
	q := fmt.Sprintf("INSERT INTO applications (%s) VALUES (%s)", strings.Join(cols, ", "), store.Placeholders(1, len(cols), false))
	stmt, err := t.tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, classify(err)
	}
	defer stmt.Close()

	ids := make([]int64, len(apps))
	for i, app := range apps {
		args, err := store.Values(app, cols)
		if err != nil {
			return nil, err
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, classify(err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (t *tx) UpdateApplications(ctx context.Context, writes []core.ApplicationWrite) error {
	cols := store.Columns(core.KindApplication)
	q := fmt.Sprintf("UPDATE applications SET %s, updated_at = CURRENT_TIMESTAMP WHERE id = ?", store.CoalesceSet(cols, 1, false))
	stmt, err := t.tx.PrepareContext(ctx, q)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()

	for _, w := range writes {
		args, err := store.Values(w.Record, cols)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, append(args, w.ID)...); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *tx) FindSubTasks(ctx context.Context, l2IDs []string) (map[core.SubTaskKey]int64, error) {
	out := make(map[core.SubTaskKey]int64)
	for _, chunk := range chunks(l2IDs) {
		q := fmt.Sprintf(`SELECT a.l2_id, s.module_name, s.sub_target, s.id
FROM subtasks s JOIN applications a ON a.id = s.application_id
WHERE a.l2_id IN (%s)`, store.Placeholders(1, len(chunk), false))
		rows, err := t.tx.QueryContext(ctx, q, anySlice(chunk)...)
		if err != nil {
			return nil, classify(err)
		}
		for rows.Next() {
			var key core.SubTaskKey
			var id int64
			if err := rows.Scan(&key.L2ID, &key.ModuleName, &key.SubTarget, &id); err != nil {
				rows.Close()
				return nil, err
			}
			out[key] = id
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, classify(err)
		}
	}
	return out, nil
}

func (t *tx) InsertSubTasks(ctx context.Context, writes []core.SubTaskWrite) error {
	cols := store.Columns(core.KindSubTask)
	q := fmt.Sprintf("INSERT INTO subtasks (application_id, %s) VALUES (%s)", strings.Join(cols, ", "), store.Placeholders(1, len(cols)+1, false))
	stmt, err := t.tx.PrepareContext(ctx, q)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()

	for _, w := range writes {
		args, err := store.Values(w.Record, cols)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, append([]any{w.ApplicationID}, args...)...); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *tx) UpdateSubTasks(ctx context.Context, writes []core.SubTaskWrite) error {
	cols := store.Columns(core.KindSubTask)
	q := fmt.Sprintf("UPDATE subtasks SET application_id = ?, %s, updated_at = CURRENT_TIMESTAMP WHERE id = ?", store.CoalesceSet(cols, 2, false))
	stmt, err := t.tx.PrepareContext(ctx, q)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()

	for _, w := range writes {
		args, err := store.Values(w.Record, cols)
		if err != nil {
			return err
		}
		args = append([]any{w.ApplicationID}, args...)
		if _, err := stmt.ExecContext(ctx, append(args, w.ID)...); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *tx) Commit(context.Context) error {
	return classify(t.tx.Commit())
}

func (t *tx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// classify turns lock contention into a retryable conflict and unique
// violations into a batch conflict.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return &core.ConflictError{Reason: "database is locked", Retryable: true, Err: err}
	case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return &core.ConflictError{Reason: "unique constraint violated", Err: err}
	}
	return err
}

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(len(ids), maxParams)
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
