package rules

import (
	"context"
	"log"
	"strings"

	"metatable/internal/apperr"
	"metatable/internal/instrument"
	"metatable/internal/metadata"
	"metatable/internal/store"
)

// PageRuleSource reads a page's toolbar and context-menu rules.
type PageRuleSource interface {
	PageRules(ctx context.Context, q store.Querier, pageCode, componentKey string) ([]metadata.PageRule, error)
}

// PageActionRequest names a toolbar or menu action of a page component.
// A blank ComponentKey searches every component of the page.
type PageActionRequest struct {
	PageCode     string         `json:"pageCode"`
	ComponentKey string         `json:"componentKey"`
	ActionCode   string         `json:"actionCode"`
	Data         map[string]any `json:"data"`
}

// ExecutePageAction runs the first item of the page's rules whose action is
// req.ActionCode. Rules whose document does not parse are skipped.
func (e *Engine) ExecutePageAction(ctx context.Context, q store.Querier, req PageActionRequest) (report *ExecutionReport, err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "page_action")
	span.SetEntity(req.PageCode, req.ActionCode)
	defer func() {
		if err != nil {
			span.SetStatus("error")
			span.SetMetadata("error", err.Error())
		} else {
			span.SetStatus("ok")
		}
		span.End()
	}()

	if strings.TrimSpace(req.PageCode) == "" {
		return nil, apperr.InvalidArgumentf("page code is required")
	}
	if strings.TrimSpace(req.ActionCode) == "" {
		return nil, apperr.InvalidArgumentf("action code is required")
	}
	if e.pages == nil {
		return nil, apperr.NotFoundf("page %s has no action rules", req.PageCode)
	}

	pageRules, err := e.pages.PageRules(ctx, q, req.PageCode, req.ComponentKey)
	if err != nil {
		return nil, apperr.ExecutionFailuref(err, "load page rules of %s", req.PageCode)
	}
	if len(pageRules) == 0 {
		return nil, apperr.NotFoundf("page %s has no action rules", req.PageCode)
	}

	for _, pr := range pageRules {
		rule, ok, err := pr.FindAction(req.ActionCode)
		if err != nil {
			log.Printf("WARN: page %s component %s: ignoring malformed rules: %v", pr.PageCode, pr.ComponentKey, err)
			continue
		}
		if !ok {
			continue
		}
		return e.runPageAction(ctx, q, req, rule)
	}
	return nil, apperr.NotFoundf("action %s not found on page %s", req.ActionCode, req.PageCode)
}

func (e *Engine) runPageAction(ctx context.Context, q store.Querier, req PageActionRequest, rule metadata.ActionRule) (*ExecutionReport, error) {
	ex, err := e.registry.Get(rule.Type)
	if err != nil {
		return nil, err
	}
	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	report := &ExecutionReport{ExecutedActions: []string{}, Vars: make(map[string]any)}
	ac := &ActionContext{
		TableCode:  req.PageCode,
		ActionCode: req.ActionCode,
		Data:       data,
		Vars:       report.Vars,
		Q:          q,
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
	report.ExecutedActions = append(report.ExecutedActions, req.ActionCode)
	return report, nil
}
