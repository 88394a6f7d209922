package core

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Record is an extracted row of one entity kind. Implementations are closed
// structs; Get and Set only accept the field names of their binding table.
type Record interface {
	Kind() EntityKind
	// Line is the 1-based spreadsheet row the record came from.
	Line() int
	Get(field string) (Value, error)
	Set(field string, v Value) error
	// NaturalKey is the business identifier used for duplicate detection
	// and reconciliation. Empty when the key fields are null.
	NaturalKey() string
}

// ApplicationRecord is the parent entity row.
type ApplicationRecord struct {
	Row int

	L2ID                 pgtype.Text
	AppName              pgtype.Text
	SupervisionYear      pgtype.Int8
	TransformationTarget pgtype.Text
	CurrentStage         pgtype.Text
	OverallStatus        pgtype.Text
	ResponsibleTeam      pgtype.Text
	ResponsiblePerson    pgtype.Text
	ProgressPercentage   pgtype.Int8

	PlannedRequirementDate pgtype.Date
	PlannedReleaseDate     pgtype.Date
	PlannedTechOnlineDate  pgtype.Date
	PlannedBizOnlineDate   pgtype.Date
	ActualRequirementDate  pgtype.Date
	ActualReleaseDate      pgtype.Date
	ActualTechOnlineDate   pgtype.Date
	ActualBizOnlineDate    pgtype.Date

	IsAKCompleted          pgtype.Bool
	IsCloudNativeCompleted pgtype.Bool
	StatusUpdatedAt        pgtype.Timestamptz
	Notes                  pgtype.Text
}

// SubTaskRecord is the child entity row. ApplicationL2ID references the
// parent by natural key, never by storage identifier.
type SubTaskRecord struct {
	Row int

	ApplicationL2ID    pgtype.Text
	ModuleName         pgtype.Text
	SubTarget          pgtype.Text
	VersionName        pgtype.Text
	TaskStatus         pgtype.Text
	ProgressPercentage pgtype.Int8
	IsBlocked          pgtype.Bool
	BlockReason        pgtype.Text

	PlannedRequirementDate pgtype.Date
	PlannedReleaseDate     pgtype.Date
	PlannedTechOnlineDate  pgtype.Date
	PlannedBizOnlineDate   pgtype.Date
	ActualRequirementDate  pgtype.Date
	ActualReleaseDate      pgtype.Date
	ActualTechOnlineDate   pgtype.Date
	ActualBizOnlineDate    pgtype.Date

	WorkEstimate pgtype.Int8
	AssignedTo   pgtype.Text
	CompletedAt  pgtype.Timestamptz
	Notes        pgtype.Text
}

// SubTaskKey is the natural key of a subtask.
type SubTaskKey struct {
	L2ID       string
	ModuleName string
	SubTarget  string
}

func (k SubTaskKey) String() string {
	return k.L2ID + " / " + k.ModuleName + " / " + k.SubTarget
}

// Key returns the natural key of the subtask.
func (r *SubTaskRecord) Key() SubTaskKey {
	return SubTaskKey{
		L2ID:       r.ApplicationL2ID.String,
		ModuleName: r.ModuleName.String,
		SubTarget:  r.SubTarget.String,
	}
}

// ----------------------------------------------------------------------------
// Binding tables
// ----------------------------------------------------------------------------

// binding ties a canonical field name to a typed struct member.
type binding[R any] struct {
	typ FieldType
	ptr func(*R) any
}

var applicationBindings = map[string]binding[ApplicationRecord]{
	"l2_id":                     {FieldText, func(r *ApplicationRecord) any { return &r.L2ID }},
	"app_name":                  {FieldText, func(r *ApplicationRecord) any { return &r.AppName }},
	"supervision_year":          {FieldInt, func(r *ApplicationRecord) any { return &r.SupervisionYear }},
	"transformation_target":     {FieldText, func(r *ApplicationRecord) any { return &r.TransformationTarget }},
	"current_stage":             {FieldText, func(r *ApplicationRecord) any { return &r.CurrentStage }},
	"overall_status":            {FieldText, func(r *ApplicationRecord) any { return &r.OverallStatus }},
	"responsible_team":          {FieldText, func(r *ApplicationRecord) any { return &r.ResponsibleTeam }},
	"responsible_person":        {FieldText, func(r *ApplicationRecord) any { return &r.ResponsiblePerson }},
	"progress_percentage":       {FieldInt, func(r *ApplicationRecord) any { return &r.ProgressPercentage }},
	"planned_requirement_date":  {FieldDate, func(r *ApplicationRecord) any { return &r.PlannedRequirementDate }},
	"planned_release_date":      {FieldDate, func(r *ApplicationRecord) any { return &r.PlannedReleaseDate }},
	"planned_tech_online_date":  {FieldDate, func(r *ApplicationRecord) any { return &r.PlannedTechOnlineDate }},
	"planned_biz_online_date":   {FieldDate, func(r *ApplicationRecord) any { return &r.PlannedBizOnlineDate }},
	"actual_requirement_date":   {FieldDate, func(r *ApplicationRecord) any { return &r.ActualRequirementDate }},
	"actual_release_date":       {FieldDate, func(r *ApplicationRecord) any { return &r.ActualReleaseDate }},
	"actual_tech_online_date":   {FieldDate, func(r *ApplicationRecord) any { return &r.ActualTechOnlineDate }},
	"actual_biz_online_date":    {FieldDate, func(r *ApplicationRecord) any { return &r.ActualBizOnlineDate }},
	"is_ak_completed":           {FieldBool, func(r *ApplicationRecord) any { return &r.IsAKCompleted }},
	"is_cloud_native_completed": {FieldBool, func(r *ApplicationRecord) any { return &r.IsCloudNativeCompleted }},
	"status_updated_at":         {FieldTimestamp, func(r *ApplicationRecord) any { return &r.StatusUpdatedAt }},
	"notes":                     {FieldText, func(r *ApplicationRecord) any { return &r.Notes }},
}

var subTaskBindings = map[string]binding[SubTaskRecord]{
	"application_l2_id":        {FieldText, func(r *SubTaskRecord) any { return &r.ApplicationL2ID }},
	"module_name":              {FieldText, func(r *SubTaskRecord) any { return &r.ModuleName }},
	"sub_target":               {FieldText, func(r *SubTaskRecord) any { return &r.SubTarget }},
	"version_name":             {FieldText, func(r *SubTaskRecord) any { return &r.VersionName }},
	"task_status":              {FieldText, func(r *SubTaskRecord) any { return &r.TaskStatus }},
	"progress_percentage":      {FieldInt, func(r *SubTaskRecord) any { return &r.ProgressPercentage }},
	"is_blocked":               {FieldBool, func(r *SubTaskRecord) any { return &r.IsBlocked }},
	"block_reason":             {FieldText, func(r *SubTaskRecord) any { return &r.BlockReason }},
	"planned_requirement_date": {FieldDate, func(r *SubTaskRecord) any { return &r.PlannedRequirementDate }},
	"planned_release_date":     {FieldDate, func(r *SubTaskRecord) any { return &r.PlannedReleaseDate }},
	"planned_tech_online_date": {FieldDate, func(r *SubTaskRecord) any { return &r.PlannedTechOnlineDate }},
	"planned_biz_online_date":  {FieldDate, func(r *SubTaskRecord) any { return &r.PlannedBizOnlineDate }},
	"actual_requirement_date":  {FieldDate, func(r *SubTaskRecord) any { return &r.ActualRequirementDate }},
	"actual_release_date":      {FieldDate, func(r *SubTaskRecord) any { return &r.ActualReleaseDate }},
	"actual_tech_online_date":  {FieldDate, func(r *SubTaskRecord) any { return &r.ActualTechOnlineDate }},
	"actual_biz_online_date":   {FieldDate, func(r *SubTaskRecord) any { return &r.ActualBizOnlineDate }},
	"work_estimate":            {FieldInt, func(r *SubTaskRecord) any { return &r.WorkEstimate }},
	"assigned_to":              {FieldText, func(r *SubTaskRecord) any { return &r.AssignedTo }},
	"completed_at":             {FieldTimestamp, func(r *SubTaskRecord) any { return &r.CompletedAt }},
	"notes":                    {FieldText, func(r *SubTaskRecord) any { return &r.Notes }},
}

func fieldTypes[R any](bindings map[string]binding[R]) map[string]FieldType {
	out := make(map[string]FieldType, len(bindings))
	for name, b := range bindings {
		out[name] = b.typ
	}
	return out
}

func getField[R any](bindings map[string]binding[R], r *R, field string) (Value, error) {
	b, ok := bindings[field]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return loadValue(b.ptr(r)), nil
}

func setField[R any](bindings map[string]binding[R], r *R, field string, v Value) error {
	b, ok := bindings[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if v.Valid && v.Type != b.typ {
		return fmt.Errorf("%w: %s wants %s, got %s", ErrFieldType, field, b.typ, v.Type)
	}
	storeValue(b.ptr(r), v)
	return nil
}

func loadValue(dst any) Value {
	switch d := dst.(type) {
	case *pgtype.Text:
		if d.Valid {
			return TextValue(d.String)
		}
		return Value{Type: FieldText}
	case *pgtype.Int8:
		if d.Valid {
			return IntValue(d.Int64)
		}
		return Value{Type: FieldInt}
	case *pgtype.Bool:
		if d.Valid {
			return BoolValue(d.Bool)
		}
		return Value{Type: FieldBool}
	case *pgtype.Date:
		if d.Valid {
			return DateValue(d.Time)
		}
		return Value{Type: FieldDate}
	case *pgtype.Timestamptz:
		if d.Valid {
			return TimestampValue(d.Time)
		}
		return Value{Type: FieldTimestamp}
	}
	return Value{}
}

func storeValue(dst any, v Value) {
	switch d := dst.(type) {
	case *pgtype.Text:
		*d = pgtype.Text{String: v.Text, Valid: v.Valid}
	case *pgtype.Int8:
		*d = pgtype.Int8{Int64: v.Int, Valid: v.Valid}
	case *pgtype.Bool:
		*d = pgtype.Bool{Bool: v.Bool, Valid: v.Valid}
	case *pgtype.Date:
		*d = pgtype.Date{Time: v.Time, Valid: v.Valid}
	case *pgtype.Timestamptz:
		*d = pgtype.Timestamptz{Time: v.Time, Valid: v.Valid}
	}
}

// ----------------------------------------------------------------------------
// Record implementations
// ----------------------------------------------------------------------------

func (r *ApplicationRecord) Kind() EntityKind { return KindApplication }
func (r *ApplicationRecord) Line() int        { return r.Row }

func (r *ApplicationRecord) Get(field string) (Value, error) {
	return getField(applicationBindings, r, field)
}

func (r *ApplicationRecord) Set(field string, v Value) error {
	return setField(applicationBindings, r, field, v)
}

func (r *ApplicationRecord) NaturalKey() string {
	if !r.L2ID.Valid {
		return ""
	}
	return r.L2ID.String
}

func (r *SubTaskRecord) Kind() EntityKind { return KindSubTask }
func (r *SubTaskRecord) Line() int        { return r.Row }

func (r *SubTaskRecord) Get(field string) (Value, error) {
	return getField(subTaskBindings, r, field)
}

func (r *SubTaskRecord) Set(field string, v Value) error {
	return setField(subTaskBindings, r, field, v)
}

func (r *SubTaskRecord) NaturalKey() string {
	if !r.ApplicationL2ID.Valid || !r.ModuleName.Valid || !r.SubTarget.Valid {
		return ""
	}
	return r.Key().String()
}

// RecordValues flattens a record into field -> JSON value for the given
// field order. Unknown fields are skipped.
func RecordValues(rec Record, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	out["_row"] = rec.Line()
	for _, f := range fields {
		v, err := rec.Get(f)
		if err != nil {
			continue
		}
		out[f] = v.Interface()
	}
	return out
}

// trimmedText returns the trimmed string value of a text field, or "".
func trimmedText(rec Record, field string) string {
	v, err := rec.Get(field)
	if err != nil || !v.Valid || v.Type != FieldText {
		return ""
	}
	return strings.TrimSpace(v.Text)
}
