package rules

import (
	"context"
	"strings"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

// SQLExecutor runs an action's SQL template against the action data.
type SQLExecutor struct {
	formatter *sqlfmt.Formatter
}

func NewSQLExecutor(formatter *sqlfmt.Formatter) *SQLExecutor {
	return &SQLExecutor{formatter: formatter}
}

func (x *SQLExecutor) Type() string { return "sql" }

func (x *SQLExecutor) Execute(ctx context.Context, rule metadata.ActionRule, ac *ActionContext) (*ActionResult, error) {
	if strings.TrimSpace(rule.SQL) == "" {
		return nil, apperr.InvalidArgumentf("action %s has no sql", rule.ActionCode())
	}
	sql, err := x.formatter.Substitute(rule.SQL, ac.Data)
	if err != nil {
		return nil, err
	}
	if _, err := store.Exec(ctx, ac.Q, sql); err != nil {
		return nil, apperr.ExecutionFailuref(err, "action %s", rule.ActionCode())
	}
	return &ActionResult{}, nil
}
