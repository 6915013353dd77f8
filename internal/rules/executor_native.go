package rules

import (
	"context"
	"errors"
	"strings"
	"sync"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
)

// Handler is in-process action code. A nil result counts as empty.
type Handler func(ctx context.Context, ac *ActionContext) (*ActionResult, error)

// NativeExecutor dispatches to handlers registered by name ("handler") or by
// "bean.method" key ("method").
type NativeExecutor struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	methods  map[string]Handler
}

func NewNativeExecutor() *NativeExecutor {
	return &NativeExecutor{
		handlers: make(map[string]Handler),
		methods:  make(map[string]Handler),
	}
}

func (x *NativeExecutor) Type() string { return "native" }

// RegisterHandler makes h reachable through a rule's handler field.
func (x *NativeExecutor) RegisterHandler(name string, h Handler) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handlers[name] = h
}

// RegisterMethod makes h reachable through a rule's method field as
// bean.method.
func (x *NativeExecutor) RegisterMethod(bean, method string, h Handler) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.methods[bean+"."+method] = h
}

func (x *NativeExecutor) Execute(ctx context.Context, rule metadata.ActionRule, ac *ActionContext) (*ActionResult, error) {
	h, err := x.lookup(rule)
	if err != nil {
		return nil, err
	}
	res, err := h(ctx, ac)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.ExecutionFailuref(err, "action %s", rule.ActionCode())
	}
	if res == nil {
		res = &ActionResult{}
	}
	return res, nil
}

func (x *NativeExecutor) lookup(rule metadata.ActionRule) (Handler, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if name := strings.TrimSpace(rule.Handler); name != "" {
		h, ok := x.handlers[name]
		if !ok {
			return nil, apperr.InvalidArgumentf("action handler %q not found", name)
		}
		return h, nil
	}

	ref := strings.TrimSpace(rule.Method)
	if ref == "" {
		return nil, apperr.InvalidArgumentf("action %s has neither handler nor method", rule.ActionCode())
	}
	dot := strings.Index(ref, ".")
	if dot <= 0 || dot == len(ref)-1 {
		return nil, apperr.InvalidArgumentf("action method %q must be bean.method", ref)
	}
	h, ok := x.methods[ref]
	if !ok {
		return nil, apperr.InvalidArgumentf("action method %q not found", ref)
	}
	return h, nil
}
