package api

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"metatable/internal/apperr"
	"metatable/internal/engine"
	"metatable/internal/metadata"
	"metatable/internal/permission"
	"metatable/internal/rules"
	"metatable/internal/store"
)

type Handler struct {
	store  *store.Store
	schema *store.SchemaStore
	data   *engine.Engine
	rules  *rules.Engine
	perms  *permission.Service
}

func NewHandler(s *store.Store, data *engine.Engine, re *rules.Engine, perms *permission.Service) *Handler {
	return &Handler{store: s, schema: store.NewSchemaStore(s), data: data, rules: re, perms: perms}
}

// List handles GET /api/data/:table
func (h *Handler) List(c *fiber.Ctx) error {
	req, err := h.request(c, h.store.DB, c.Query("pageCode"))
	if err != nil {
		return err
	}
	return h.query(c, req, parseQuerySpec(c))
}

// Search handles POST /api/data/:table/search
func (h *Handler) Search(c *fiber.Ctx) error {
	var body struct {
		engine.QuerySpec
		PageCode string `json:"pageCode"`
	}
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}
	req, err := h.request(c, h.store.DB, body.PageCode)
	if err != nil {
		return err
	}
	return h.query(c, req, body.QuerySpec)
}

func (h *Handler) query(c *fiber.Ctx, req engine.Request, spec engine.QuerySpec) error {
	result, err := h.data.Query(c.UserContext(), req, c.Params("table"), spec)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": result.Rows,
		"meta": fiber.Map{
			"page":  result.PageNum,
			"size":  result.PageSize,
			"total": result.Total,
		},
	})
}

// All handles GET /api/data/:table/all
func (h *Handler) All(c *fiber.Ctx) error {
	req, err := h.request(c, h.store.DB, c.Query("pageCode"))
	if err != nil {
		return err
	}
	rows, err := h.data.QueryAll(c.UserContext(), req, c.Params("table"), c.Query("sortField"), c.Query("sortOrder"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rows})
}

// GetByID handles GET /api/data/:table/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	req, err := h.request(c, h.store.DB, c.Query("pageCode"))
	if err != nil {
		return err
	}
	row, err := h.data.GetByID(c.UserContext(), req, c.Params("table"), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/data/:table
func (h *Handler) Create(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}

	var id int64
	err := h.inTx(c, func(tx *sql.Tx) error {
		req, err := h.request(c, tx, c.Query("pageCode"))
		if err != nil {
			return err
		}
		id, err = h.data.Insert(c.UserContext(), req, c.Params("table"), body)
		return err
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{metadata.FieldID: id}})
}

// Update handles PUT /api/data/:table/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}

	err := h.inTx(c, func(tx *sql.Tx) error {
		req, err := h.request(c, tx, c.Query("pageCode"))
		if err != nil {
			return err
		}
		return h.data.Update(c.UserContext(), req, c.Params("table"), c.Params("id"), body)
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{metadata.FieldID: c.Params("id")}})
}

// Delete handles DELETE /api/data/:table/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	err := h.inTx(c, func(tx *sql.Tx) error {
		req, err := h.request(c, tx, c.Query("pageCode"))
		if err != nil {
			return err
		}
		return h.data.Delete(c.UserContext(), req, c.Params("table"), c.Params("id"))
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{metadata.FieldID: c.Params("id"), "deleted": true}})
}

// Save handles POST /api/data/:table/save
func (h *Handler) Save(c *fiber.Ctx) error {
	var body engine.SaveRequest
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}
	if body.TableCode == "" {
		body.TableCode = c.Params("table")
	}

	var id any
	err := h.inTx(c, func(tx *sql.Tx) error {
		req, err := h.request(c, tx, body.PageCode)
		if err != nil {
			return err
		}
		id, err = h.data.Save(c.UserContext(), req, body)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{metadata.FieldID: id}})
}

// SaveMasterDetail handles POST /api/data/master-detail
func (h *Handler) SaveMasterDetail(c *fiber.Ctx) error {
	var body engine.MasterDetailRequest
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}

	var ids map[string]int64
	err := h.inTx(c, func(tx *sql.Tx) error {
		req, err := h.request(c, tx, c.Query("pageCode"))
		if err != nil {
			return err
		}
		ids, err = h.data.SaveMasterDetail(c.UserContext(), req, body)
		return err
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ids})
}

// Validate handles POST /api/rules/:table/validate. A failed report is a
// normal response; only broken rules or unknown tables are errors.
func (h *Handler) Validate(c *fiber.Ctx) error {
	var body struct {
		Group string         `json:"group"`
		Data  map[string]any `json:"data"`
	}
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}
	report, err := h.rules.Validate(c.UserContext(), h.store.DB, c.Params("table"), body.Group, body.Data)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// Execute handles POST /api/rules/:table/execute
func (h *Handler) Execute(c *fiber.Ctx) error {
	var body rules.FlowRequest
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}

	var report *rules.ExecutionReport
	err := h.inTx(c, func(tx *sql.Tx) error {
		var err error
		report, err = h.rules.ExecuteFlow(c.UserContext(), tx, c.Params("table"), body)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// PageAction handles POST /api/rules/page/:page/execute
func (h *Handler) PageAction(c *fiber.Ctx) error {
	var body rules.PageActionRequest
	if err := c.BodyParser(&body); err != nil {
		return invalidPayload()
	}
	body.PageCode = c.Params("page")

	var report *rules.ExecutionReport
	err := h.inTx(c, func(tx *sql.Tx) error {
		var err error
		report, err = h.rules.ExecutePageAction(c.UserContext(), tx, body)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// Dict handles GET /api/meta/dict/:type
func (h *Handler) Dict(c *fiber.Ctx) error {
	items, err := h.schema.DictItems(c.UserContext(), c.Params("type"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": items})
}

// Lookup handles GET /api/meta/lookup/:code
func (h *Handler) Lookup(c *fiber.Ctx) error {
	code := c.Params("code")
	lc, err := h.schema.LookupConfig(c.UserContext(), code)
	if err != nil {
		return err
	}
	if lc == nil {
		return apperr.InvalidArgumentf("lookup %s is not configured", code)
	}
	return c.JSON(fiber.Map{"data": lc})
}

// Meta handles GET /api/meta/:table. With a pageCode the columns are
// narrowed to what the caller may see and edit.
func (h *Handler) Meta(c *fiber.Ctx) error {
	td, err := h.data.Catalog().Resolve(c.UserContext(), c.Params("table"))
	if err != nil {
		return err
	}
	if pageCode := c.Query("pageCode"); pageCode != "" {
		perm, err := h.pagePermission(c, h.store.DB, pageCode)
		if err != nil {
			return err
		}
		td = td.WithColumns(permission.Apply(td.Columns, perm))
	}
	return c.JSON(fiber.Map{"data": td})
}

// ClearCache handles POST /api/meta/cache/clear. Without a tableCode the
// whole catalog is dropped.
func (h *Handler) ClearCache(c *fiber.Ctx) error {
	var body struct {
		TableCode string `json:"tableCode"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return invalidPayload()
		}
	}
	if body.TableCode == "" {
		body.TableCode = c.Query("tableCode")
	}
	h.data.Catalog().Invalidate(strings.TrimSpace(body.TableCode))
	return c.JSON(fiber.Map{"data": fiber.Map{"cleared": body.TableCode}})
}

// Permissions handles GET /api/permissions/:page
func (h *Handler) Permissions(c *fiber.Ctx) error {
	user := GetUser(c)
	if user == nil {
		return apperr.InvalidArgumentf("%s header is required", HeaderUserID)
	}
	perm, err := h.pagePermission(c, h.store.DB, c.Params("page"))
	if err != nil {
		return err
	}
	out := *perm
	out.DataRules = permission.ResolveDataRules(perm.DataRules, user)
	return c.JSON(fiber.Map{"data": out})
}

// request builds the engine request for the caller. A pageCode narrows the
// table to the columns the caller's roles grant on that page.
func (h *Handler) request(c *fiber.Ctx, q store.Querier, pageCode string) (engine.Request, error) {
	req := engine.Request{Q: q, User: GetUser(c)}
	if pageCode == "" || req.User == nil {
		return req, nil
	}
	perm, err := h.pagePermission(c, q, pageCode)
	if err != nil {
		return req, err
	}
	req.Permission = perm
	return req, nil
}

func (h *Handler) pagePermission(c *fiber.Ctx, q store.Querier, pageCode string) (*permission.PagePermission, error) {
	pc, err := h.perms.Build(c.UserContext(), q, GetUser(c))
	if err != nil {
		return nil, fmt.Errorf("build permissions: %w", err)
	}
	return pc.Page(pageCode), nil
}

// inTx runs fn in one transaction, committing only when fn succeeds.
func (h *Handler) inTx(c *fiber.Ctx, fn func(tx *sql.Tx) error) error {
	tx, err := h.store.BeginTx(c.UserContext())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
