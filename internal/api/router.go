package api

import (
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewApp builds the fiber app: identity first, then mw, then the routes.
func NewApp(h *Handler, mw ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(Identity())
	for _, m := range mw {
		app.Use(m)
	}
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	RegisterRoutes(app, h)
	return app
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api")

	data := api.Group("/data")
	data.Post("/master-detail", h.SaveMasterDetail)
	data.Get("/:table", h.List)
	data.Post("/:table", h.Create)
	data.Post("/:table/search", h.Search)
	data.Post("/:table/save", h.Save)
	data.Get("/:table/all", h.All)
	data.Get("/:table/:id", h.GetByID)
	data.Put("/:table/:id", h.Update)
	data.Delete("/:table/:id", h.Delete)

	rg := api.Group("/rules")
	rg.Post("/page/:page/execute", h.PageAction)
	rg.Post("/:table/validate", h.Validate)
	rg.Post("/:table/execute", h.Execute)

	meta := api.Group("/meta")
	meta.Post("/cache/clear", h.ClearCache)
	meta.Get("/dict/:type", h.Dict)
	meta.Get("/lookup/:code", h.Lookup)
	meta.Get("/:table", h.Meta)

	api.Get("/permissions/:page", h.Permissions)
}
