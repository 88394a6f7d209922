// Package memory is an in-process core.Store. Transactions are serialized
// and work on a copy of the data that replaces the live copy on commit, so
// a rolled-back batch leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// SubTask is a stored subtask and its resolved application id.
type SubTask struct {
	ID            int64
	ApplicationID int64
	Record        core.SubTaskRecord
}

// Application is a stored application.
type Application struct {
	ID     int64
	Record core.ApplicationRecord
}

type dataset struct {
	nextAppID  int64
	nextTaskID int64
	apps       map[int64]core.ApplicationRecord
	appByL2    map[string]int64
	tasks      map[int64]SubTask
	taskByKey  map[core.SubTaskKey]int64
}

func newDataset() *dataset {
	return &dataset{
		apps:      make(map[int64]core.ApplicationRecord),
		appByL2:   make(map[string]int64),
		tasks:     make(map[int64]SubTask),
		taskByKey: make(map[core.SubTaskKey]int64),
	}
}

func (d *dataset) clone() *dataset {
	return &dataset{
		nextAppID:  d.nextAppID,
		nextTaskID: d.nextTaskID,
		apps:       maps.Clone(d.apps),
		appByL2:    maps.Clone(d.appByL2),
		tasks:      maps.Clone(d.tasks),
		taskByKey:  maps.Clone(d.taskByKey),
	}
}

// Store keeps applications and subtasks in memory.
type Store struct {
	writer chan struct{}

	mu   sync.RWMutex
	data *dataset

	faultMu sync.Mutex
	faults  map[string]error
}

func New() *Store {
	return &Store{writer: make(chan struct{}, 1), data: newDataset()}
}

// Begin waits for any other transaction to finish.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()
	return &tx{store: s, data: work}, nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// FailOn makes the next call of op ("insert_applications",
// "update_applications", "insert_subtasks", "update_subtasks", "commit")
// return err.
func (s *Store) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if s.faults == nil {
		s.faults = make(map[string]error)
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err := s.faults[op]
	delete(s.faults, op)
	return err
}

// Applications returns committed applications ordered by id.
func (s *Store) Applications() []Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Application, 0, len(s.data.apps))
	for id, rec := range s.data.apps {
		out = append(out, Application{ID: id, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Application returns the committed application with the given l2 id.
func (s *Store) Application(l2 string) (Application, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.data.appByL2[l2]
	if !ok {
		return Application{}, false
	}
	return Application{ID: id, Record: s.data.apps[id]}, true
}

// SubTasks returns committed subtasks ordered by id.
func (s *Store) SubTasks() []SubTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SubTask, 0, len(s.data.tasks))
	for _, t := range s.data.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type tx struct {
	store *Store
	data  *dataset
	done  bool
}

func (t *tx) check(op string) error {
	if t.done {
		return ErrTxDone
	}
	return t.store.fault(op)
}

func (t *tx) FindApplications(_ context.Context, l2IDs []string) (map[string]int64, error) {
	if err := t.check("find_applications"); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, l2 := range l2IDs {
		if id, ok := t.data.appByL2[l2]; ok {
			out[l2] = id
		}
	}
	return out, nil
}

func (t *tx) InsertApplications(_ context.Context, apps []*core.ApplicationRecord) ([]int64, error) {
	if err := t.check("insert_applications"); err != nil {
		return nil, err
	}
	ids := make([]int64, len(apps))
	for i, app := range apps {
		l2 := app.L2ID.String
		if _, exists := t.data.appByL2[l2]; exists {
			return nil, fmt.Errorf("duplicate key value violates unique constraint on l2_id %q", l2)
		}
		t.data.nextAppID++
		id := t.data.nextAppID
		t.data.apps[id] = *app
		t.data.appByL2[l2] = id
		ids[i] = id
	}
	return ids, nil
}

func (t *tx) UpdateApplications(_ context.Context, writes []core.ApplicationWrite) error {
	if err := t.check("update_applications"); err != nil {
		return err
	}
	for _, w := range writes {
		stored, ok := t.data.apps[w.ID]
		if !ok {
			return fmt.Errorf("application %d not found", w.ID)
		}
		if err := merge(&stored, w.Record, core.KindApplication); err != nil {
			return err
		}
		t.data.apps[w.ID] = stored
	}
	return nil
}

func (t *tx) FindSubTasks(_ context.Context, l2IDs []string) (map[core.SubTaskKey]int64, error) {
	if err := t.check("find_subtasks"); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(l2IDs))
	for _, l2 := range l2IDs {
		want[l2] = true
	}
	out := make(map[core.SubTaskKey]int64)
	for key, id := range t.data.taskByKey {
		if want[key.L2ID] {
			out[key] = id
		}
	}
	return out, nil
}

func (t *tx) InsertSubTasks(_ context.Context, writes []core.SubTaskWrite) error {
	if err := t.check("insert_subtasks"); err != nil {
		return err
	}
	for _, w := range writes {
		if _, ok := t.data.apps[w.ApplicationID]; !ok {
			return fmt.Errorf("insert subtask: violates foreign key constraint, application %d", w.ApplicationID)
		}
		key := w.Record.Key()
		if _, exists := t.data.taskByKey[key]; exists {
			return fmt.Errorf("duplicate key value violates unique constraint on subtask %s", key)
		}
		t.data.nextTaskID++
		id := t.data.nextTaskID
		t.data.tasks[id] = SubTask{ID: id, ApplicationID: w.ApplicationID, Record: *w.Record}
		t.data.taskByKey[key] = id
	}
	return nil
}

func (t *tx) UpdateSubTasks(_ context.Context, writes []core.SubTaskWrite) error {
	if err := t.check("update_subtasks"); err != nil {
		return err
	}
	for _, w := range writes {
		stored, ok := t.data.tasks[w.ID]
		if !ok {
			return fmt.Errorf("subtask %d not found", w.ID)
		}
		if err := merge(&stored.Record, w.Record, core.KindSubTask); err != nil {
			return err
		}
		stored.ApplicationID = w.ApplicationID
		t.data.tasks[w.ID] = stored
	}
	return nil
}

func (t *tx) Commit(context.Context) error {
	if err := t.check("commit"); err != nil {
		if !errors.Is(err, ErrTxDone) {
			t.finish()
		}
		return err
	}
	t.store.mu.Lock()
	t.store.data = t.data
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	<-t.store.writer
}

// merge copies the non-null fields of src onto dst.
func merge(dst, src core.Record, kind core.EntityKind) error {
	def, ok := core.Lookup(kind)
	if !ok {
		return core.ErrUnknownKind
	}
	for field := range def.Fields {
		v, err := src.Get(field)
		if err != nil {
			return err
		}
		if !v.Valid {
			continue
		}
		if err := dst.Set(field, v); err != nil {
			return err
		}
	}
	return nil
}
