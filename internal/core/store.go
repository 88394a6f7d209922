package core

import "context"

// Store opens write transactions against the entity tables. One ingestion
// call uses exactly one transaction.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the batched persistence capability the reconciler needs. Lookups
// take the whole batch of natural keys at once.
//
// Updates only overwrite fields whose value is non-null, so a sheet that
// lacks a column leaves the stored value alone.
type Tx interface {
	// FindApplications returns l2_id -> id for the ids that exist.
	FindApplications(ctx context.Context, l2IDs []string) (map[string]int64, error)
	// InsertApplications returns the assigned ids in input order.
	InsertApplications(ctx context.Context, apps []*ApplicationRecord) ([]int64, error)
	UpdateApplications(ctx context.Context, writes []ApplicationWrite) error

	// FindSubTasks returns the existing subtasks of the given applications.
	FindSubTasks(ctx context.Context, l2IDs []string) (map[SubTaskKey]int64, error)
	InsertSubTasks(ctx context.Context, writes []SubTaskWrite) error
	UpdateSubTasks(ctx context.Context, writes []SubTaskWrite) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ApplicationWrite updates the stored application ID from Record.
type ApplicationWrite struct {
	ID     int64
	Record *ApplicationRecord
}

// SubTaskWrite persists Record under ApplicationID. ID is zero for inserts.
type SubTaskWrite struct {
	ID            int64
	ApplicationID int64
	Record        *SubTaskRecord
}
