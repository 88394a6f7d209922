package core

import (
	"fmt"
	"time"
)

// EntityKind identifies one of the reconciled entity kinds.
type EntityKind string

const (
	KindApplication EntityKind = "application"
	KindSubTask     EntityKind = "subtask"
)

// Role describes where an entity kind sits in the parent/child relation.
type Role int

const (
	RoleParent Role = iota
	RoleChild
)

func (r Role) String() string {
	if r == RoleChild {
		return "child"
	}
	return "parent"
}

// FieldType represents the declared type of a canonical field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldBool
	FieldDate
	FieldTimestamp
)

var fieldTypeNames = map[FieldType]string{
	FieldText:      "string",
	FieldInt:       "integer",
	FieldBool:      "boolean",
	FieldDate:      "date",
	FieldTimestamp: "timestamp",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType converts the vocabulary spelling of a type to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range fieldTypeNames {
		if name == s {
			return t, nil
		}
	}
	return FieldText, fmt.Errorf("unknown field type %q", s)
}

// Value is a coerced cell value. Type says which member is populated;
// a Value with Valid=false is null regardless of Type.
type Value struct {
	Type  FieldType
	Valid bool
	Text  string
	Int   int64
	Bool  bool
	Time  time.Time
}

func TextValue(s string) Value { return Value{Type: FieldText, Valid: true, Text: s} }
func IntValue(i int64) Value { return Value{Type: FieldInt, Valid: true, Int: i} }
func BoolValue(b bool) Value { return Value{Type: FieldBool, Valid: true, Bool: b} }
func DateValue(t time.Time) Value { return Value{Type: FieldDate, Valid: true, Time: t} }
func TimestampValue(t time.Time) Value { return Value{Type: FieldTimestamp, Valid: true, Time: t} }

// Interface returns the value as a JSON-friendly Go value.
// Dates render as YYYY-MM-DD and timestamps as RFC 3339.
func (v Value) Interface() any {
	if !v.Valid {
		return nil
	}
	switch v.Type {
	case FieldInt:
		return v.Int
	case FieldBool:
		return v.Bool
	case FieldDate:
		return v.Time.Format(time.DateOnly)
	case FieldTimestamp:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Text
	}
}

func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return fmt.Sprint(v.Interface())
}

// Severity grades a ValidationIssue. Only errors block persistence.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is a diagnostic attached to a row (or to the sheet when Row is 0).
// Row is the 1-based spreadsheet row number.
type ValidationIssue struct {
	Row      int      `json:"row"`
	Column   string   `json:"column,omitempty"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Value    any      `json:"value,omitempty"`
	Code     string   `json:"code"`
}

// IsError reports whether the issue blocks persistence of its row.
func (i ValidationIssue) IsError() bool {
	return i.Severity == SeverityError
}

// UnmappedHeader is a header cell the field mapper could not place.
type UnmappedHeader struct {
	Column int    `json:"column"`
	Header string `json:"header"`
	Reason string `json:"reason,omitempty"`
}

// WriteCounts summarizes the outcome of one reconciliation.
type WriteCounts struct {
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Skipped        int `json:"skipped"`
	ParentsCreated int `json:"parents_created"`
}
