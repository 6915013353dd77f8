package rules

import (
	"context"
	"sort"
	"strings"

	"metatable/internal/apperr"
	"metatable/internal/instrument"
	"metatable/internal/metadata"
	"metatable/internal/store"
)

// ExecutionReport lists the actions run, in run order, and the variables
// they produced.
type ExecutionReport struct {
	ExecutedActions []string       `json:"executedActions"`
	Vars            map[string]any `json:"vars"`
}

// ExecuteActions runs the table's enabled action rules in ascending order.
// When codes is non-empty it selects rules by code or name and group is not
// consulted; otherwise rules are selected by group. Each action's vars are
// visible to the actions after it. The first failing action stops the run.
func (e *Engine) ExecuteActions(ctx context.Context, q store.Querier, tableCode, group string, codes []string,
	data map[string]any, validation *Report) (report *ExecutionReport, err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "execute_actions")
	span.SetEntity(tableCode, "")
	defer func() {
		if err != nil {
			span.SetStatus("error")
			span.SetMetadata("error", err.Error())
		} else {
			span.SetStatus("ok")
			span.SetMetadata("executed", len(report.ExecutedActions))
		}
		span.End()
	}()

	td, err := e.catalog.Resolve(ctx, tableCode)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}

	selected := selectActions(td.ActionRuleList(), group, codes)
	report = &ExecutionReport{ExecutedActions: []string{}, Vars: make(map[string]any)}
	ac := &ActionContext{
		TableCode:  tableCode,
		Data:       data,
		Validation: validation,
		Vars:       report.Vars,
		Q:          q,
	}

	for _, rule := range selected {
		code := rule.ActionCode()
		ac.ActionCode = code

		ex, err := e.registry.Get(rule.Type)
		if err != nil {
			return nil, err
		}
		res, err := ex.Execute(ctx, rule, ac)
		if err != nil {
			return nil, err
		}
		if res != nil {
			for k, v := range res.Vars {
				report.Vars[k] = v
			}
		}
		report.ExecutedActions = append(report.ExecutedActions, code)
	}
	return report, nil
}

func selectActions(rules []metadata.ActionRule, group string, codes []string) []metadata.ActionRule {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			want[c] = true
		}
	}

	var out []metadata.ActionRule
	for _, r := range rules {
		if !r.IsEnabled() {
			continue
		}
		if len(want) > 0 {
			if !(r.Code != "" && want[r.Code]) && !(r.Name != "" && want[r.Name]) {
				continue
			}
		} else if !matchesGroup(r.Group, group) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder() < out[j].SortOrder() })
	return out
}

// FlowRequest runs validation and then actions as one unit. Validation runs
// when Validate is set or ValidateGroup is non-blank.
type FlowRequest struct {
	Group         string         `json:"group"`
	ActionCodes   []string       `json:"actionCodes"`
	Data          map[string]any `json:"data"`
	Validate      bool           `json:"validate"`
	ValidateGroup string         `json:"validateGroup"`
}

// ExecuteFlow validates (when asked) and then runs the selected actions.
// A failed validation stops the flow with RuleFailure before any action runs.
func (e *Engine) ExecuteFlow(ctx context.Context, q store.Querier, tableCode string, fr FlowRequest) (*ExecutionReport, error) {
	if len(fr.ActionCodes) == 0 && strings.TrimSpace(fr.Group) == "" {
		return nil, apperr.InvalidArgumentf("action group or codes are required")
	}
	data := fr.Data
	if data == nil {
		data = map[string]any{}
	}

	var validation *Report
	if fr.Validate || strings.TrimSpace(fr.ValidateGroup) != "" {
		report, err := e.Validate(ctx, q, tableCode, fr.ValidateGroup, data)
		if err != nil {
			return nil, err
		}
		if !report.Passed {
			code := ""
			if n := len(report.Results); n > 0 {
				code = report.Results[n-1].Code
			}
			return nil, apperr.RuleFailed(code, report.Message)
		}
		validation = report
	}
	return e.ExecuteActions(ctx, q, tableCode, fr.Group, fr.ActionCodes, data, validation)
}
