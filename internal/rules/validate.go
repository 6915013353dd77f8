package rules

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cast"

	"metatable/internal/apperr"
	"metatable/internal/instrument"
	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

// RuleResult is the outcome of one validation rule.
type RuleResult struct {
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
	Passed  bool   `json:"passed"`
	Result  *int64 `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report is the outcome of a validation run. Results stop at the first
// failing rule.
type Report struct {
	Passed  bool         `json:"passed"`
	Message string       `json:"message,omitempty"`
	Results []RuleResult `json:"results"`
}

// Engine runs a table's validation and action rules.
type Engine struct {
	catalog   *metadata.Catalog
	formatter *sqlfmt.Formatter
	registry  *Registry
	pages     PageRuleSource

	programs sync.Map // condition -> *vm.Program
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageRules enables ExecutePageAction with rules read from src.
func WithPageRules(src PageRuleSource) Option {
	return func(e *Engine) { e.pages = src }
}

func New(catalog *metadata.Catalog, formatter *sqlfmt.Formatter, registry *Registry, opts ...Option) *Engine {
	e := &Engine{catalog: catalog, formatter: formatter, registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs the table's validation rules of group against data in
// ascending order and stops at the first failure. A blank group on either
// side matches every rule.
func (e *Engine) Validate(ctx context.Context, q store.Querier, tableCode, group string, data map[string]any) (report *Report, err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "validate")
	span.SetEntity(tableCode, "")
	defer func() {
		switch {
		case err != nil:
			span.SetStatus("error")
			span.SetMetadata("error", err.Error())
		case !report.Passed:
			span.SetStatus("failed")
		default:
			span.SetStatus("ok")
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

	var rules []metadata.ValidationRule
	for _, r := range td.ValidationRuleList() {
		if matchesGroup(r.Group, group) {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].SortOrder() < rules[j].SortOrder() })

	report = &Report{Passed: true, Results: []RuleResult{}}
	for _, rule := range rules {
		res, err := e.check(ctx, q, rule, data)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, res)
		if !res.Passed {
			report.Passed = false
			report.Message = res.Message
			return report, nil
		}
	}
	return report, nil
}

// ValidateRow is Validate reduced to an error: RuleFailure carrying the
// failing rule's message.
func (e *Engine) ValidateRow(ctx context.Context, q store.Querier, tableCode, group string, data map[string]any) error {
	report, err := e.Validate(ctx, q, tableCode, group, data)
	if err != nil {
		return err
	}
	if !report.Passed {
		code := ""
		if n := len(report.Results); n > 0 {
			code = report.Results[n-1].Code
		}
		return apperr.RuleFailed(code, report.Message)
	}
	return nil
}

func (e *Engine) check(ctx context.Context, q store.Querier, rule metadata.ValidationRule, data map[string]any) (RuleResult, error) {
	res := RuleResult{Code: rule.Code, Name: rule.Name, Passed: true}
	if strings.TrimSpace(rule.SQL) == "" || strings.TrimSpace(rule.Condition) == "" {
		return res, nil
	}

	sql, err := e.formatter.Substitute(rule.SQL, data)
	if err != nil {
		return res, err
	}
	v, err := store.QueryScalar(ctx, q, sql)
	if err != nil {
		return res, apperr.ExecutionFailuref(err, "validation rule %s", rule.Code)
	}
	count, err := cast.ToInt64E(v)
	if v == nil || err != nil {
		count = 0
	}
	res.Result = &count

	passed, ok := e.evaluate(rule.Condition, count)
	if !ok {
		log.Printf("WARN: validation rule %s: cannot evaluate condition %q, treated as passed", rule.Code, rule.Condition)
		return res, nil
	}
	res.Passed = passed
	if !passed {
		res.Message = rule.Message
		if res.Message == "" {
			res.Message = fmt.Sprintf("validation rule %s failed", rule.Code)
		}
	}
	return res, nil
}

// evaluate runs condition with result bound to count. A condition that
// starts with a comparison operator is read as "result <cond>".
func (e *Engine) evaluate(condition string, count int64) (passed, ok bool) {
	prog, err := e.program(condition)
	if err != nil {
		return false, false
	}
	out, err := expr.Run(prog, map[string]any{"result": count})
	if err != nil {
		return false, false
	}
	b, isBool := out.(bool)
	return b, isBool
}

func (e *Engine) program(condition string) (*vm.Program, error) {
	if p, ok := e.programs.Load(condition); ok {
		return p.(*vm.Program), nil
	}
	src := strings.TrimSpace(condition)
	if src != "" && strings.ContainsAny(src[:1], "=!<>") {
		src = "result " + src
	}
	prog, err := expr.Compile(src, expr.Env(map[string]any{"result": int64(0)}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	e.programs.Store(condition, prog)
	return prog, nil
}

func matchesGroup(ruleGroup, group string) bool {
	ruleGroup, group = strings.TrimSpace(ruleGroup), strings.TrimSpace(group)
	return ruleGroup == "" || group == "" || ruleGroup == group
}
