package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validApp returns an application record that passes every check.
func validApp(line int, l2 string) *ApplicationRecord {
	r := &ApplicationRecord{Row: line}
	must := func(field string, v Value) {
		if err := r.Set(field, v); err != nil {
			panic(err)
		}
	}
	must("l2_id", TextValue(l2))
	must("app_name", TextValue("支付系统"))
	must("supervision_year", IntValue(2024))
	must("transformation_target", TextValue(TargetAK))
	must("responsible_team", TextValue("核心团队"))
	return r
}

func validateApps(t *testing.T, recs ...Record) []ValidationIssue {
	t.Helper()
	def, ok := Lookup(KindApplication)
	require.True(t, ok)
	return NewValidator(def, testVocab(t, KindApplication), nil, DefaultValidationConfig()).Validate(recs)
}

func codes(issues []ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestValidateCleanRecord(t *testing.T) {
	rec := validApp(2, "L2_1")
	assert.Empty(t, validateApps(t, rec))

	status, _ := rec.Get("overall_status")
	assert.Equal(t, StatusNotStarted, status.Text, "empty status is filled with the default")
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *ApplicationRecord)
		wantCode  string
		wantError bool
	}{
		{
			name:      "required field missing",
			mutate:    func(r *ApplicationRecord) { _ = r.Set("app_name", Value{}) },
			wantCode:  CodeRequired,
			wantError: true,
		},
		{
			name:      "required field blank",
			mutate:    func(r *ApplicationRecord) { _ = r.Set("responsible_team", TextValue("  ")) },
			wantCode:  CodeRequired,
			wantError: true,
		},
		{
			name:      "unknown enum value",
			mutate:    func(r *ApplicationRecord) { _ = r.Set("overall_status", TextValue("暂停")) },
			wantCode:  CodeEnumDefault,
			wantError: false,
		},
		{
			name:      "progress out of range",
			mutate:    func(r *ApplicationRecord) { _ = r.Set("progress_percentage", IntValue(150)) },
			wantCode:  CodeRange,
			wantError: true,
		},
		{
			name:      "supervision year out of range",
			mutate:    func(r *ApplicationRecord) { _ = r.Set("supervision_year", IntValue(2019)) },
			wantCode:  CodeRange,
			wantError: true,
		},
		{
			name: "planned dates out of order",
			mutate: func(r *ApplicationRecord) {
				_ = r.Set("planned_requirement_date", DateValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
				_ = r.Set("planned_release_date", DateValue(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
			},
			wantCode:  CodeDateOrder,
			wantError: true,
		},
		{
			name:      "identifier without prefix",
			mutate:    func(r *ApplicationRecord) { _ = r.Set("l2_id", TextValue("APP_1")) },
			wantCode:  CodeKeyFormat,
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validApp(5, "L2_1")
			tt.mutate(rec)
			issues := validateApps(t, rec)
			require.Len(t, issues, 1, "issues: %+v", issues)
			assert.Equal(t, tt.wantCode, issues[0].Code)
			assert.Equal(t, tt.wantError, issues[0].IsError())
			assert.Equal(t, 5, issues[0].Row)
		})
	}
}

func TestValidateEnumAliases(t *testing.T) {
	rec := validApp(2, "L2_1")
	_ = rec.Set("overall_status", TextValue("进行中"))
	_ = rec.Set("transformation_target", TextValue("Cloud Native"))

	assert.Empty(t, validateApps(t, rec))
	status, _ := rec.Get("overall_status")
	target, _ := rec.Get("transformation_target")
	assert.Equal(t, "研发进行中", status.Text)
	assert.Equal(t, TargetCloudNative, target.Text)
}

func TestValidateUnknownEnumUsesDefault(t *testing.T) {
	rec := validApp(2, "L2_1")
	_ = rec.Set("transformation_target", TextValue("mainframe"))

	issues := validateApps(t, rec)
	require.Len(t, issues, 1)
	assert.Equal(t, "转型目标", issues[0].Column)
	target, _ := rec.Get("transformation_target")
	assert.Equal(t, TargetAK, target.Text)
}

func TestValidateFlagsEveryDuplicate(t *testing.T) {
	recs := []Record{
		validApp(2, "L2_1"),
		validApp(3, "L2_2"),
		validApp(4, "L2_1"),
		validApp(7, "L2_1"),
	}

	issues := validateApps(t, recs...)
	require.Len(t, issues, 3)
	rows := []int{}
	for _, is := range issues {
		assert.Equal(t, CodeDuplicateKey, is.Code)
		assert.Contains(t, is.Message, "rows 2, 4, 7")
		rows = append(rows, is.Row)
	}
	assert.Equal(t, []int{2, 4, 7}, rows)
	assert.Equal(t, map[int]bool{2: true, 4: true, 7: true}, ErrorRows(issues))
}

func TestValidateSubTaskChecks(t *testing.T) {
	def, _ := Lookup(KindSubTask)
	vocab := testVocab(t, KindSubTask)
	m := MapHeaders([]string{"应用L2 ID", "模块", "子目标", "阻塞"}, vocab)

	rec := &SubTaskRecord{Row: 9}
	_ = rec.Set("application_l2_id", TextValue("L2_1"))
	_ = rec.Set("module_name", TextValue("支付"))
	_ = rec.Set("sub_target", TextValue("ak改造"))
	_ = rec.Set("is_blocked", BoolValue(true))
	_ = rec.Set("task_status", TextValue("blocked"))

	issues := NewValidator(def, vocab, m, DefaultValidationConfig()).Validate([]Record{rec})
	assert.Equal(t, []string{CodeBlockReason}, codes(issues))

	target, _ := rec.Get("sub_target")
	status, _ := rec.Get("task_status")
	assert.Equal(t, TargetAK, target.Text)
	assert.Equal(t, "阻塞中", status.Text)
}

func TestValidatorUsesSheetHeaders(t *testing.T) {
	def, _ := Lookup(KindApplication)
	vocab := testVocab(t, KindApplication)
	m := MapHeaders([]string{"L2ID", "系统名称"}, vocab)

	rec := validApp(2, "L2_1")
	_ = rec.Set("app_name", Value{})
	_ = rec.Set("responsible_team", Value{})

	issues := NewValidator(def, vocab, m, DefaultValidationConfig()).Validate([]Record{rec})
	require.Len(t, issues, 2)
	assert.Equal(t, "系统名称", issues[0].Column, "mapped columns use the sheet header")
	assert.Equal(t, "负责团队", issues[1].Column, "unmapped columns use the canonical header")
}

func TestSplitIssues(t *testing.T) {
	issues := []ValidationIssue{
		{Row: 1, Severity: SeverityWarning, Code: "A"},
		{Row: 2, Severity: SeverityError, Code: "B"},
		{Row: 3, Severity: SeverityWarning, Code: "C"},
	}
	errs, warns := SplitIssues(issues)
	assert.Equal(t, []string{"B"}, codes(errs))
	assert.Equal(t, []string{"A", "C"}, codes(warns))
}
