package rules

import (
	"context"
	"strings"
	"sync"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

// ActionContext is what an executor sees of the running action pipeline.
// Vars is shared by every action of one run.
type ActionContext struct {
	TableCode  string
	ActionCode string
	Data       map[string]any
	Validation *Report
	Vars       map[string]any
	Q          store.Querier
}

// ActionResult carries variables an action hands to the ones after it.
type ActionResult struct {
	Vars    map[string]any `json:"vars,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Executor runs one action-rule type.
type Executor interface {
	Type() string
	Execute(ctx context.Context, rule metadata.ActionRule, ac *ActionContext) (*ActionResult, error)
}

// Registry maps action-rule types to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	for _, ex := range executors {
		r.Register(ex)
	}
	return r
}

// NewDefaultRegistry registers the sql, proc and native executors. Rules
// typed "java" run on the native executor.
func NewDefaultRegistry(dialect store.Dialect, formatter *sqlfmt.Formatter, native *NativeExecutor) *Registry {
	r := NewRegistry(NewSQLExecutor(formatter), NewProcExecutor(dialect), native)
	r.Alias("java", "native")
	return r
}

// Register adds ex under its type, replacing any executor already there.
func (r *Registry) Register(ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[strings.ToLower(ex.Type())] = ex
}

// Alias makes typ resolve to the executor registered under target.
func (r *Registry) Alias(typ, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ex, ok := r.executors[strings.ToLower(target)]; ok {
		r.executors[strings.ToLower(typ)] = ex
	}
}

// Get returns the executor for typ. Blank and unregistered types are
// rejected with InvalidArgument.
func (r *Registry) Get(typ string) (Executor, error) {
	key := strings.ToLower(strings.TrimSpace(typ))
	if key == "" {
		return nil, apperr.InvalidArgumentf("action type is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[key]
	if !ok {
		return nil, apperr.InvalidArgumentf("unsupported action type %q", typ)
	}
	return ex, nil
}
