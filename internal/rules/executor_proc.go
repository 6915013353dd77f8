package rules

import (
	"context"
	"strings"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

// ProcExecutor calls a stored procedure, binding IN values from the action
// data or vars and writing OUT values back.
type ProcExecutor struct {
	dialect store.Dialect
}

func NewProcExecutor(dialect store.Dialect) *ProcExecutor {
	return &ProcExecutor{dialect: dialect}
}

func (x *ProcExecutor) Type() string { return "proc" }

func (x *ProcExecutor) Execute(ctx context.Context, rule metadata.ActionRule, ac *ActionContext) (*ActionResult, error) {
	if strings.TrimSpace(rule.Procedure) == "" {
		return nil, apperr.InvalidArgumentf("action %s has no procedure", rule.ActionCode())
	}
	name, err := sqlfmt.Identifier(strings.TrimSpace(rule.Procedure))
	if err != nil {
		return nil, err
	}

	params := make([]store.ProcParam, len(rule.Params))
	for i, p := range rule.Params {
		mode := procMode(p.Mode)
		if mode != "IN" && mode != "OUT" && mode != "INOUT" {
			return nil, apperr.InvalidArgumentf("action %s: unsupported parameter mode %q", rule.ActionCode(), p.Mode)
		}
		sqlType := strings.ToUpper(strings.TrimSpace(p.JdbcType))
		if sqlType == "" {
			sqlType = "VARCHAR"
		}
		if !store.IsProcType(sqlType) {
			return nil, apperr.InvalidArgumentf("action %s: unsupported jdbcType %q", rule.ActionCode(), p.JdbcType)
		}
		params[i] = store.ProcParam{Mode: mode, SQLType: sqlType}
		if mode != "OUT" {
			params[i].Value = resolveSource(p.Source, ac)
		}
	}

	outputs, err := x.dialect.CallProcedure(ctx, ac.Q, name, params)
	if err != nil {
		return nil, apperr.ExecutionFailuref(err, "procedure %s", name)
	}

	result := &ActionResult{Vars: make(map[string]any)}
	n := 0
	for i, p := range rule.Params {
		if !params[i].HasOutput() {
			continue
		}
		var v any
		if n < len(outputs) {
			v = outputs[n]
		}
		n++
		if key := applyTarget(p.Target, v, ac); key != "" {
			result.Vars[key] = v
		}
	}
	return result, nil
}

func procMode(mode string) string {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if mode == "" {
		return "IN"
	}
	return mode
}

// resolveSource reads "data.x", "vars.x" or a bare data key.
func resolveSource(source string, ac *ActionContext) any {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return nil
	case strings.HasPrefix(source, "data."):
		return ac.Data[strings.TrimPrefix(source, "data.")]
	case strings.HasPrefix(source, "vars."):
		return ac.Vars[strings.TrimPrefix(source, "vars.")]
	}
	return ac.Data[source]
}

// applyTarget writes v to "data.x", "vars.x" or, for a bare key, vars.
// Returns the key written, or "" when target is blank.
func applyTarget(target string, v any, ac *ActionContext) string {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return ""
	case strings.HasPrefix(target, "data."):
		key := strings.TrimPrefix(target, "data.")
		ac.Data[key] = v
		return key
	case strings.HasPrefix(target, "vars."):
		key := strings.TrimPrefix(target, "vars.")
		ac.Vars[key] = v
		return key
	}
	ac.Vars[target] = v
	return target
}
