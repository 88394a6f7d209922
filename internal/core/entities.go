package core

import (
	"context"
	"fmt"
	"strings"
)

const (
	TargetAK          = "AK"
	TargetCloudNative = "云原生"

	StatusNotStarted = "待启动"
	TeamUnassigned   = "待分配"
)

var targetRule = EnumRule{
	Values: []string{TargetAK, TargetCloudNative},
	Aliases: map[string]string{
		"ak改造":         TargetAK,
		"ak转型":         TargetAK,
		"cloud native": TargetCloudNative,
		"cloudnative":  TargetCloudNative,
		"云原生改造":        TargetCloudNative,
		"云原生转型":        TargetCloudNative,
		"cn":           TargetCloudNative,
	},
	Default: TargetAK,
}

var plannedDateOrder = []string{
	"planned_requirement_date",
	"planned_release_date",
	"planned_tech_online_date",
	"planned_biz_online_date",
}

func init() {
	Register(EntityDef{
		Kind:          KindApplication,
		Role:          RoleParent,
		Label:         "应用",
		Fields:        fieldTypes(applicationBindings),
		TemplateSheet: "应用导入模板",
		Rules: RuleSet{
			Required: []string{"l2_id", "app_name", "supervision_year", "transformation_target", "responsible_team"},
			Enums: []EnumRule{
				withField(targetRule, "transformation_target"),
				{
					Field:  "overall_status",
					Values: []string{"待启动", "研发进行中", "业务上线中", "全部完成"},
					Aliases: map[string]string{
						"未启动":         "待启动",
						"未开始":         "待启动",
						"not started": "待启动",
						"进行中":         "研发进行中",
						"开发中":         "研发进行中",
						"研发中":         "研发进行中",
						"in progress": "研发进行中",
						"上线中":         "业务上线中",
						"已完成":         "全部完成",
						"完成":          "全部完成",
						"completed":   "全部完成",
					},
					Default:   StatusNotStarted,
					FillEmpty: true,
				},
			},
			Ranges:    []RangeRule{{Field: "progress_percentage", Min: 0, Max: 100}},
			DateOrder: plannedDateOrder,
			Checks:    []RecordCheck{checkL2Format("l2_id"), checkSupervisionYear},
		},
		Samples: []map[string]any{
			{
				"l2_id": "L2_APP_001", "app_name": "支付系统", "supervision_year": 2024,
				"transformation_target": TargetAK, "current_stage": "开发阶段", "overall_status": "研发进行中",
				"responsible_team": "核心技术团队", "responsible_person": "张三", "progress_percentage": 60,
				"planned_requirement_date": "2024-01-15", "planned_release_date": "2024-03-01",
				"planned_tech_online_date": "2024-04-15", "planned_biz_online_date": "2024-05-01",
				"actual_requirement_date": "2024-01-20", "is_ak_completed": "否", "is_cloud_native_completed": "否",
				"notes": "正在进行AK改造",
			},
			{
				"l2_id": "L2_APP_002", "app_name": "用户中心", "supervision_year": 2024,
				"transformation_target": TargetCloudNative, "current_stage": "测试阶段", "overall_status": "业务上线中",
				"responsible_team": "平台团队", "responsible_person": "李四", "progress_percentage": 85,
				"planned_requirement_date": "2024-02-01", "planned_release_date": "2024-03-15",
				"planned_tech_online_date": "2024-04-01", "planned_biz_online_date": "2024-04-20",
				"actual_requirement_date": "2024-02-03", "actual_release_date": "2024-03-18",
				"is_ak_completed": "否", "is_cloud_native_completed": "否",
				"notes": "云原生迁移测试中",
			},
		},
		NewRecord: func(line int) Record { return &ApplicationRecord{Row: line} },
		Persist:   persistApplications,
	})

	Register(EntityDef{
		Kind:          KindSubTask,
		Role:          RoleChild,
		Label:         "子任务",
		Fields:        fieldTypes(subTaskBindings),
		TemplateSheet: "子任务导入模板",
		Rules: RuleSet{
			Required: []string{"application_l2_id", "module_name", "sub_target"},
			Enums: []EnumRule{
				withField(targetRule, "sub_target"),
				{
					Field:  "task_status",
					Values: []string{"待启动", "研发进行中", "测试中", "待上线", "已完成", "阻塞中"},
					Aliases: map[string]string{
						"未启动":         "待启动",
						"未开始":         "待启动",
						"not started": "待启动",
						"进行中":         "研发进行中",
						"开发中":         "研发进行中",
						"in progress": "研发进行中",
						"测试":          "测试中",
						"testing":     "测试中",
						"待发布":         "待上线",
						"完成":          "已完成",
						"全部完成":        "已完成",
						"completed":   "已完成",
						"done":        "已完成",
						"阻塞":          "阻塞中",
						"blocked":     "阻塞中",
					},
					Default:   StatusNotStarted,
					FillEmpty: true,
				},
			},
			Ranges: []RangeRule{
				{Field: "progress_percentage", Min: 0, Max: 100},
				{Field: "work_estimate", Min: 0, Max: 1 << 31},
			},
			DateOrder: plannedDateOrder,
			Checks:    []RecordCheck{checkL2Format("application_l2_id"), checkBlockReason},
		},
		Samples: []map[string]any{
			{
				"application_l2_id": "L2_APP_001", "module_name": "支付核心模块", "sub_target": TargetAK,
				"version_name": "v1.0", "task_status": "研发进行中", "progress_percentage": 50, "is_blocked": "否",
				"planned_requirement_date": "2024-01-15", "planned_release_date": "2024-02-15",
				"planned_tech_online_date": "2024-03-01", "planned_biz_online_date": "2024-03-15",
				"work_estimate": 120, "assigned_to": "张三", "notes": "核心功能开发",
			},
			{
				"application_l2_id": "L2_APP_001", "module_name": "对账模块", "sub_target": TargetAK,
				"version_name": "v1.1", "task_status": "阻塞中", "progress_percentage": 20, "is_blocked": "是",
				"block_reason": "等待上游接口", "planned_requirement_date": "2024-02-01",
				"planned_release_date": "2024-03-01", "work_estimate": 80, "assigned_to": "王五",
			},
		},
		NewRecord: func(line int) Record { return &SubTaskRecord{Row: line} },
		Persist:   persistSubTasks,
	})
}

func withField(rule EnumRule, field string) EnumRule {
	rule.Field = field
	return rule
}

// checkL2Format warns when an application identifier lacks the L2_ prefix.
func checkL2Format(field string) RecordCheck {
	return func(rec Record, _ ValidationConfig) []ValidationIssue {
		id := trimmedText(rec, field)
		if id == "" || strings.HasPrefix(strings.ToUpper(id), "L2_") {
			return nil
		}
		return []ValidationIssue{{
			Row:      rec.Line(),
			Field:    field,
			Message:  "identifier should start with L2_",
			Severity: SeverityWarning,
			Value:    id,
			Code:     CodeKeyFormat,
		}}
	}
}

func checkSupervisionYear(rec Record, cfg ValidationConfig) []ValidationIssue {
	val, err := rec.Get("supervision_year")
	if err != nil || !val.Valid || val.Type != FieldInt {
		return nil
	}
	if val.Int >= int64(cfg.MinSupervisionYear) && val.Int <= int64(cfg.MaxSupervisionYear) {
		return nil
	}
	return []ValidationIssue{{
		Row:      rec.Line(),
		Field:    "supervision_year",
		Message:  fmt.Sprintf("supervision year must be between %d and %d", cfg.MinSupervisionYear, cfg.MaxSupervisionYear),
		Severity: SeverityError,
		Value:    val.Int,
		Code:     CodeRange,
	}}
}

func checkBlockReason(rec Record, _ ValidationConfig) []ValidationIssue {
	blocked, err := rec.Get("is_blocked")
	if err != nil || !blocked.Valid || !blocked.Bool {
		return nil
	}
	if trimmedText(rec, "block_reason") != "" {
		return nil
	}
	return []ValidationIssue{{
		Row:      rec.Line(),
		Field:    "block_reason",
		Message:  "blocked task has no block reason",
		Severity: SeverityWarning,
		Code:     CodeBlockReason,
	}}
}

func persistApplications(ctx context.Context, rc *Reconciler, tx Tx, records []Record) (WriteCounts, error) {
	apps := make([]*ApplicationRecord, 0, len(records))
	for _, r := range records {
		app, ok := r.(*ApplicationRecord)
		if !ok {
			return WriteCounts{}, fmt.Errorf("%w: %T is not an application record", ErrUnknownKind, r)
		}
		apps = append(apps, app)
	}
	return rc.ReconcileApplications(ctx, tx, apps)
}

func persistSubTasks(ctx context.Context, rc *Reconciler, tx Tx, records []Record) (WriteCounts, error) {
	tasks := make([]*SubTaskRecord, 0, len(records))
	for _, r := range records {
		task, ok := r.(*SubTaskRecord)
		if !ok {
			return WriteCounts{}, fmt.Errorf("%w: %T is not a subtask record", ErrUnknownKind, r)
		}
		tasks = append(tasks, task)
	}
	return rc.ReconcileSubTasks(ctx, tx, tasks)
}
