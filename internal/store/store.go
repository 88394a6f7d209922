// Package store holds the table layout shared by the SQL store backends.
//
// Canonical field names double as column names, so the column list of a
// table is derived from the entity registry and values are read through
// core.Record.Get. The postgres and sqlite packages differ only in SQL
// dialect and driver.
package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

const (
	ApplicationsTable = "applications"
	SubTasksTable     = "subtasks"
)

// Table returns the table holding kind.
func Table(kind core.EntityKind) string {
	switch kind {
	case core.KindApplication:
		return ApplicationsTable
	case core.KindSubTask:
		return SubTasksTable
	}
	return ""
}

// Columns returns the field columns of kind in a stable order.
func Columns(kind core.EntityKind) []string {
	def, ok := core.Lookup(kind)
	if !ok {
		return nil
	}
	cols := make([]string, 0, len(def.Fields))
	for f := range def.Fields {
		cols = append(cols, f)
	}
	sort.Strings(cols)
	return cols
}

// Dialect maps field types to column types.
type Dialect map[core.FieldType]string

// ColumnDefs renders "name TYPE" definitions for the field columns of kind.
// notNull lists the columns declared NOT NULL.
func ColumnDefs(kind core.EntityKind, d Dialect, notNull ...string) []string {
	def, _ := core.Lookup(kind)
	required := make(map[string]bool, len(notNull))
	for _, c := range notNull {
		required[c] = true
	}

	var defs []string
	for _, col := range Columns(kind) {
		s := fmt.Sprintf("%s %s", col, d[def.Fields[col]])
		if required[col] {
			s += " NOT NULL"
		}
		defs = append(defs, s)
	}
	return defs
}

// Values returns the driver values of cols for rec. Null fields are nil.
func Values(rec core.Record, cols []string) ([]any, error) {
	out := make([]any, len(cols))
	for i, col := range cols {
		v, err := rec.Get(col)
		if err != nil {
			return nil, err
		}
		out[i] = SQLValue(v)
	}
	return out, nil
}

// SQLValue converts a field value to a database/sql and pgx argument.
func SQLValue(v core.Value) any {
	if !v.Valid {
		return nil
	}
	switch v.Type {
	case core.FieldInt:
		return v.Int
	case core.FieldBool:
		return v.Bool
	case core.FieldDate, core.FieldTimestamp:
		return v.Time
	default:
		return v.Text
	}
}

// Placeholders renders n bind parameters starting at start, using
// "$n" when numbered is set and "?" otherwise.
func Placeholders(start, n int, numbered bool) string {
	parts := make([]string, n)
	for i := range parts {
		if numbered {
			parts[i] = fmt.Sprintf("$%d", start+i)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

// CoalesceSet renders "col = COALESCE(<param>, col)" assignments so that
// null arguments keep the stored value.
func CoalesceSet(cols []string, start int, numbered bool) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		param := "?"
		if numbered {
			param = fmt.Sprintf("$%d", start+i)
		}
		parts[i] = fmt.Sprintf("%s = COALESCE(%s, %s)", col, param, col)
	}
	return strings.Join(parts, ", ")
}
