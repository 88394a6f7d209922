package core

// validation.go checks a whole batch of extracted records.
//
// Validation runs after extraction rather than per chunk because key
// uniqueness needs every row. Checks run in this order for each record:
//  1. Required fields
//  2. Enum normalization (aliases rewritten, unknown values defaulted)
//  3. Numeric ranges
//  4. Planned date ordering
//  5. Kind-specific checks
//
// Duplicate natural keys are checked last and flag every row that shares
// the key. Only error-severity issues keep a record out of persistence.

import (
	"fmt"
	"sort"
	"strings"
)

// EnumRule normalizes an enumerated text field.
type EnumRule struct {
	Field   string
	Values  []string
	Aliases map[string]string
	// Default replaces values matching neither Values nor Aliases.
	Default string
	// FillEmpty sets Default on null values without reporting them.
	FillEmpty bool
}

// RangeRule bounds an integer field. Bounds are inclusive.
type RangeRule struct {
	Field    string
	Min, Max int64
}

// RecordCheck is a kind-specific check run after the generic rules.
type RecordCheck func(rec Record, cfg ValidationConfig) []ValidationIssue

// RuleSet is the validation configuration of one entity kind.
type RuleSet struct {
	Required []string
	Enums    []EnumRule
	Ranges   []RangeRule
	// DateOrder lists planned date fields from earliest to latest stage.
	DateOrder []string
	Checks    []RecordCheck
}

// ValidationConfig carries tunable bounds used by kind-specific checks.
type ValidationConfig struct {
	MinSupervisionYear int
	MaxSupervisionYear int
}

// DefaultValidationConfig returns the bounds used when none are configured.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{MinSupervisionYear: 2020, MaxSupervisionYear: 2030}
}

// Validator checks records of one entity kind.
type Validator struct {
	def    EntityDef
	vocab  *Vocabulary
	cfg    ValidationConfig
	column func(field string) string
}

// NewValidator creates a validator. Issues name the column through the
// header actually found in the sheet when mapping is non-nil, otherwise
// through the vocabulary's primary header.
func NewValidator(def EntityDef, vocab *Vocabulary, mapping *FieldMapping, cfg ValidationConfig) *Validator {
	v := &Validator{def: def, vocab: vocab, cfg: cfg}
	v.column = func(field string) string {
		if mapping != nil {
			if h := mapping.HeaderFor(field); h != "" {
				return h
			}
		}
		return vocab.HeaderFor(field)
	}
	return v
}

// Validate checks every record and normalizes enum fields in place.
// Issues are ordered by row.
func (v *Validator) Validate(records []Record) []ValidationIssue {
	var issues []ValidationIssue

	for _, rec := range records {
		issues = append(issues, v.checkRequired(rec)...)
		issues = append(issues, v.normalizeEnums(rec)...)
		issues = append(issues, v.checkRanges(rec)...)
		issues = append(issues, v.checkDateOrder(rec)...)
		for _, check := range v.def.Rules.Checks {
			issues = append(issues, check(rec, v.cfg)...)
		}
	}
	issues = append(issues, v.checkDuplicates(records)...)

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Row < issues[j].Row
	})
	return issues
}

func (v *Validator) checkRequired(rec Record) []ValidationIssue {
	var issues []ValidationIssue
	for _, field := range v.def.Rules.Required {
		val, err := rec.Get(field)
		if err != nil || !val.Valid || (val.Type == FieldText && strings.TrimSpace(val.Text) == "") {
			issues = append(issues, ValidationIssue{
				Row:      rec.Line(),
				Column:   v.column(field),
				Field:    field,
				Message:  "required field is empty",
				Severity: SeverityError,
				Code:     CodeRequired,
			})
		}
	}
	return issues
}

func (v *Validator) normalizeEnums(rec Record) []ValidationIssue {
	var issues []ValidationIssue
	for _, rule := range v.def.Rules.Enums {
		val, err := rec.Get(rule.Field)
		if err != nil {
			continue
		}
		if !val.Valid {
			if rule.FillEmpty && rule.Default != "" {
				_ = rec.Set(rule.Field, TextValue(rule.Default))
			}
			continue
		}

		canonical, known := rule.normalize(val.String())
		if !known {
			issues = append(issues, ValidationIssue{
				Row:      rec.Line(),
				Column:   v.column(rule.Field),
				Field:    rule.Field,
				Message:  fmt.Sprintf("unknown value replaced with default %q", rule.Default),
				Severity: SeverityWarning,
				Value:    val.Interface(),
				Code:     CodeEnumDefault,
			})
		}
		if canonical != val.Text || val.Type != FieldText {
			_ = rec.Set(rule.Field, TextValue(canonical))
		}
	}
	return issues
}

// normalize maps raw onto the canonical value set. known is false when the
// default had to be used.
func (r EnumRule) normalize(raw string) (canonical string, known bool) {
	s := strings.TrimSpace(raw)
	folded := strings.ToLower(s)
	for _, value := range r.Values {
		if strings.ToLower(value) == folded {
			return value, true
		}
	}
	for alias, value := range r.Aliases {
		if strings.ToLower(alias) == folded {
			return value, true
		}
	}
	return r.Default, false
}

func (v *Validator) checkRanges(rec Record) []ValidationIssue {
	var issues []ValidationIssue
	for _, rule := range v.def.Rules.Ranges {
		val, err := rec.Get(rule.Field)
		if err != nil || !val.Valid || val.Type != FieldInt {
			continue
		}
		if val.Int < rule.Min || val.Int > rule.Max {
			issues = append(issues, ValidationIssue{
				Row:      rec.Line(),
				Column:   v.column(rule.Field),
				Field:    rule.Field,
				Message:  fmt.Sprintf("value must be between %d and %d", rule.Min, rule.Max),
				Severity: SeverityError,
				Value:    val.Int,
				Code:     CodeRange,
			})
		}
	}
	return issues
}

// checkDateOrder compares each present planned date with the latest
// earlier-stage date that is also present.
func (v *Validator) checkDateOrder(rec Record) []ValidationIssue {
	var issues []ValidationIssue
	var prev Value
	var prevField string
	for _, field := range v.def.Rules.DateOrder {
		val, err := rec.Get(field)
		if err != nil || !val.Valid {
			continue
		}
		if prev.Valid && val.Time.Before(prev.Time) {
			issues = append(issues, ValidationIssue{
				Row:      rec.Line(),
				Column:   v.column(field),
				Field:    field,
				Message:  fmt.Sprintf("date precedes %s (%s)", v.column(prevField), prev.Interface()),
				Severity: SeverityError,
				Value:    val.Interface(),
				Code:     CodeDateOrder,
			})
		}
		prev, prevField = val, field
	}
	return issues
}

func (v *Validator) checkDuplicates(records []Record) []ValidationIssue {
	rowsByKey := make(map[string][]int)
	var order []string
	for _, rec := range records {
		key := rec.NaturalKey()
		if key == "" {
			continue
		}
		if _, seen := rowsByKey[key]; !seen {
			order = append(order, key)
		}
		rowsByKey[key] = append(rowsByKey[key], rec.Line())
	}

	var issues []ValidationIssue
	for _, key := range order {
		rows := rowsByKey[key]
		if len(rows) < 2 {
			continue
		}
		for _, row := range rows {
			issues = append(issues, ValidationIssue{
				Row:      row,
				Message:  fmt.Sprintf("duplicate key %q (rows %s)", key, joinInts(rows)),
				Severity: SeverityError,
				Value:    key,
				Code:     CodeDuplicateKey,
			})
		}
	}
	return issues
}

// ErrorRows returns the set of rows carrying at least one error.
func ErrorRows(issues []ValidationIssue) map[int]bool {
	rows := make(map[int]bool)
	for _, issue := range issues {
		if issue.IsError() && issue.Row > 0 {
			rows[issue.Row] = true
		}
	}
	return rows
}

// SplitIssues separates errors from warnings, keeping order.
func SplitIssues(issues []ValidationIssue) (errs, warnings []ValidationIssue) {
	for _, issue := range issues {
		if issue.IsError() {
			errs = append(errs, issue)
		} else {
			warnings = append(warnings, issue)
		}
	}
	return errs, warnings
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
