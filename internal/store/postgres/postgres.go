// Package postgres is the production core.Store on PostgreSQL through pgx.
//
// Lookups take the whole batch of keys in one ANY($1) query, inserts and
// updates are sent as pgx batches, and new subtasks go through COPY.
// Transactions run at REPEATABLE READ; serialization failures and
// deadlocks surface as retryable conflicts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/store"
)

// SQLSTATE codes
const (
	codeSerialization = "40001"
	codeDeadlock      = "40P01"
	codeUniqueViolate = "23505"
)

var dialect = store.Dialect{
	core.FieldText:      "TEXT",
	core.FieldInt:       "BIGINT",
	core.FieldBool:      "BOOLEAN",
	core.FieldDate:      "DATE",
	core.FieldTimestamp: "TIMESTAMPTZ",
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store implements core.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to url and verifies the connection.
func Open(ctx context.Context, url string, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// EnsureSchema creates the applications and subtasks tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	apps := append([]string{"id BIGSERIAL PRIMARY KEY"},
		store.ColumnDefs(core.KindApplication, dialect, "l2_id")...)
	apps = append(apps,
		"created_at TIMESTAMPTZ NOT NULL DEFAULT now()",
		"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()",
		"UNIQUE (l2_id)",
	)

	tasks := append([]string{
		"id BIGSERIAL PRIMARY KEY",
		"application_id BIGINT NOT NULL REFERENCES applications(id)",
	}, store.ColumnDefs(core.KindSubTask, dialect, "application_l2_id", "module_name", "sub_target")...)
	tasks = append(tasks,
		"created_at TIMESTAMPTZ NOT NULL DEFAULT now()",
		"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()",
		"UNIQUE (application_id, module_name, sub_target)",
	)

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", store.ApplicationsTable, strings.Join(apps, ",\n\t")),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", store.SubTasksTable, strings.Join(tasks, ",\n\t")),
		"CREATE INDEX IF NOT EXISTS idx_subtasks_l2 ON subtasks(application_l2_id)",
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, classify(err)
	}
	return &tx{tx: pgTx}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) FindApplications(ctx context.Context, l2IDs []string) (map[string]int64, error) {
	rows, err := t.tx.Query(ctx, "SELECT l2_id, id FROM applications WHERE l2_id = ANY($1)", l2IDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(l2IDs))
	for rows.Next() {
		var l2 string
		var id int64
		if err := rows.Scan(&l2, &id); err != nil {
			return nil, err
		}
		out[l2] = id
	}
	return out, classify(rows.Err())
}

func (t *tx) InsertApplications(ctx context.Context, apps []*core.ApplicationRecord) ([]int64, error) {
	cols := store.Columns(core.KindApplication)
	q := fmt.Sprintf("INSERT INTO applications (%s) VALUES (%s) RETURNING id",
		strings.Join(cols, ", "), store.Placeholders(1, len(cols), true))

	batch := &pgx.Batch{}
	for _, app := range apps {
		args, err := store.Values(app, cols)
		if err != nil {
			return nil, err
		}
		batch.Queue(q, args...)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	ids := make([]int64, len(apps))
	for i := range apps {
		if err := br.QueryRow().Scan(&ids[i]); err != nil {
			return nil, classify(err)
		}
	}
	return ids, classify(br.Close())
}

func (t *tx) UpdateApplications(ctx context.Context, writes []core.ApplicationWrite) error {
	cols := store.Columns(core.KindApplication)
	q := fmt.Sprintf("UPDATE applications SET %s, updated_at = now() WHERE id = $%d",
		store.CoalesceSet(cols, 1, true), len(cols)+1)

	batch := &pgx.Batch{}
	for _, w := range writes {
		args, err := store.Values(w.Record, cols)
		if err != nil {
			return err
		}
		batch.Queue(q, append(args, w.ID)...)
	}
	return t.exec(ctx, batch)
}

func (t *tx) FindSubTasks(ctx context.Context, l2IDs []string) (map[core.SubTaskKey]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT a.l2_id, s.module_name, s.sub_target, s.id
FROM subtasks s JOIN applications a ON a.id = s.application_id
WHERE a.l2_id = ANY($1)`, l2IDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[core.SubTaskKey]int64)
	for rows.Next() {
		var key core.SubTaskKey
		var id int64
		if err := rows.Scan(&key.L2ID, &key.ModuleName, &key.SubTarget, &id); err != nil {
			return nil, err
		}
		out[key] = id
	}
	return out, classify(rows.Err())
}

func (t *tx) InsertSubTasks(ctx context.Context, writes []core.SubTaskWrite) error {
	cols := store.Columns(core.KindSubTask)
	rows := make([][]any, len(writes))
	for i, w := range writes {
		args, err := store.Values(w.Record, cols)
		if err != nil {
			return err
		}
		rows[i] = append([]any{w.ApplicationID}, args...)
	}

	n, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{store.SubTasksTable},
		append([]string{"application_id"}, cols...),
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return classify(err)
	}
	if int(n) != len(writes) {
		return fmt.Errorf("copy subtasks: %d of %d rows written", n, len(writes))
	}
	return nil
}

func (t *tx) UpdateSubTasks(ctx context.Context, writes []core.SubTaskWrite) error {
	cols := store.Columns(core.KindSubTask)
	q := fmt.Sprintf("UPDATE subtasks SET application_id = $1, %s, updated_at = now() WHERE id = $%d",
		store.CoalesceSet(cols, 2, true), len(cols)+2)

	batch := &pgx.Batch{}
	for _, w := range writes {
		args, err := store.Values(w.Record, cols)
		if err != nil {
			return err
		}
		args = append([]any{w.ApplicationID}, args...)
		batch.Queue(q, append(args, w.ID)...)
	}
	return t.exec(ctx, batch)
}

func (t *tx) exec(ctx context.Context, batch *pgx.Batch) error {
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			return classify(err)
		}
	}
	return classify(br.Close())
}

func (t *tx) Commit(ctx context.Context) error {
	return classify(t.tx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// classify maps PostgreSQL errors onto conflicts. Other errors pass through.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerialization, codeDeadlock:
		return &core.ConflictError{Reason: pgErr.Message, Retryable: true, Err: err}
	case codeUniqueViolate:
		return &core.ConflictError{Key: pgErr.ConstraintName, Reason: "unique constraint violated", Err: err}
	}
	return err
}
