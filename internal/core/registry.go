package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// PersistFunc writes validated records of one kind inside tx.
type PersistFunc func(ctx context.Context, rc *Reconciler, tx Tx, records []Record) (WriteCounts, error)

// EntityDef contains everything needed to ingest one entity kind.
type EntityDef struct {
	Kind  EntityKind
	Role  Role
	Label string

	// Fields is the closed binding table: canonical field name -> declared type.
	Fields map[string]FieldType

	// TemplateSheet names the worksheet written by GenerateTemplate.
	TemplateSheet string

	Rules RuleSet

	// Samples are example rows for templates, keyed by field name.
	Samples []map[string]any

	NewRecord func(line int) Record
	Persist   PersistFunc
}

var (
	registry   = make(map[EntityKind]EntityDef)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the kind is already registered.
func Register(def EntityDef) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Kind]; exists {
		panic(fmt.Sprintf("entity kind already registered: %s", def.Kind))
	}
	registry[def.Kind] = def
}

// Lookup returns an entity definition by kind.
func Lookup(kind EntityKind) (EntityDef, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[kind]
	return def, ok
}

// All returns all registered definitions, parents before children, then by kind.
func All() []EntityDef {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDef, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Role != result[j].Role {
			return result[i].Role < result[j].Role
		}
		return result[i].Kind < result[j].Kind
	})
	return result
}

// Kinds returns the registered kinds in the same order as All.
func Kinds() []EntityKind {
	defs := All()
	kinds := make([]EntityKind, len(defs))
	for i, d := range defs {
		kinds[i] = d.Kind
	}
	return kinds
}

// KindCount returns the number of registered entity kinds.
func KindCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}
