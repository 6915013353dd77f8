package engine

import (
	"context"

	"metatable/internal/instrument"
	"metatable/internal/metadata"
	"metatable/internal/permission"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

// Request carries the per-call state the engine needs. Q is the ambient
// transaction (or the bare DB); the engine never commits or rolls back.
type Request struct {
	Q          store.Querier
	User       *metadata.UserContext
	Permission *permission.PagePermission
}

// RowValidator checks a row before the save flows write it.
type RowValidator interface {
	ValidateRow(ctx context.Context, q store.Querier, tableCode, group string, data map[string]any) error
}

// Engine runs metadata-driven reads and writes.
type Engine struct {
	catalog   *metadata.Catalog
	dialect   store.Dialect
	formatter *sqlfmt.Formatter
	validator RowValidator
	actor     string
}

type Option func(*Engine)

// WithValidator sets the validator used by Save and SaveMasterDetail.
func WithValidator(v RowValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithDefaultActor sets the name stamped on rows written without a user.
func WithDefaultActor(actor string) Option {
	return func(e *Engine) { e.actor = actor }
}

func New(catalog *metadata.Catalog, dialect store.Dialect, opts ...Option) *Engine {
	e := &Engine{
		catalog:   catalog,
		dialect:   dialect,
		formatter: sqlfmt.New(dialect.TimestampExpr),
		actor:     "system",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog exposes the metadata catalog the engine resolves tables through.
func (e *Engine) Catalog() *metadata.Catalog { return e.catalog }

// tableView is a resolved table narrowed by the request's page permission.
type tableView struct {
	full   *metadata.TableDescriptor
	eff    *metadata.TableDescriptor
	hidden map[string]bool
	// enforceEdit drops non-editable columns from writes.
	enforceEdit bool
}

func (e *Engine) resolve(ctx context.Context, req Request, code string) (*tableView, error) {
	td, err := e.catalog.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	v := &tableView{full: td, eff: td}
	if req.Permission == nil {
		return v, nil
	}

	v.eff = td.WithColumns(permission.Apply(td.Columns, req.Permission))
	v.enforceEdit = true
	for _, c := range td.Columns {
		if v.eff.Column(c.FieldName) == nil {
			if v.hidden == nil {
				v.hidden = make(map[string]bool)
			}
			v.hidden[c.FieldName] = true
		}
	}
	return v, nil
}

func startSpan(ctx context.Context, action, tableCode string) (context.Context, instrument.Span) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "data", action)
	span.SetEntity(tableCode, "")
	return ctx, span
}

func endSpan(span instrument.Span, err error) {
	if err != nil {
		span.SetStatus("error")
		span.SetMetadata("error", err.Error())
	} else {
		span.SetStatus("ok")
	}
	span.End()
}
