// Package core provides the business logic for spreadsheet ingestion.
//
// This package turns an uploaded workbook of unknown layout into validated,
// typed records and reconciles them against the application/subtask store.
// It has no transport dependencies and can be used by web handlers, CLI
// tools, or tests without modification.
//
// # Pipeline
//
// One ingestion call runs the stages in order:
//
//  1. [RegionLocator] scans the leading rows of a sheet and picks the header row.
//  2. [MapHeaders] maps raw header strings onto the canonical [Vocabulary].
//  3. [Extractor] streams data rows in chunks and coerces each cell with [Coerce].
//  4. [Validator] checks the whole batch and normalizes enumerated fields.
//  5. [Reconciler] writes parents and children inside one [Tx].
//
// # Entity Registry
//
// Entity kinds are registered at init time using [Register]. Each
// [EntityDef] carries its closed field table, validation rules, template
// samples and the persistence step used by the reconciler:
//
//	core.Register(EntityDef{
//	    Kind:      KindApplication,
//	    Role:      RoleParent,
//	    Fields:    fieldTypes(applicationBindings),
//	    NewRecord: func(line int) Record { return &ApplicationRecord{Row: line} },
//	})
//
// Header vocabularies are YAML configuration embedded in the binary and may
// be overridden from a directory; see [LoadVocabularies].
//
// # Error Handling
//
// Parsing and mapping are permissive and accumulate [ValidationIssue]
// diagnostics. Only reconciliation and persistence failures are returned as
// errors; they are mapped to user-facing messages with [MapError]:
//
//   - STR001-STR003, MAP001-MAP003, COE001-COE002: structural, mapping and coercion diagnostics
//   - VAL001-VAL011: validation issues
//   - REC001-REC003: reconciliation conflicts
//   - DB001-DB009: database errors
//   - FILE001-FILE006: file errors
//   - ING001-ING003: ingestion errors (busy, cancelled, timeout)
//   - RATE001: request throttling
package core
