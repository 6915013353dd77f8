package api

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"

	"metatable/internal/engine"
	"metatable/internal/sqlfmt"
)

// defaultPageSize applies only when no size is given; size <= 0 is unpaged.
const defaultPageSize = 20

// reserved query keys are never turned into filters.
var reserved = map[string]bool{
	"page": true, "pageNum": true, "size": true, "pageSize": true,
	"sortField": true, "sortOrder": true, "pageCode": true,
}

// parseQuerySpec reads paging, sort and eq filters from the query string.
// Upper-snake filter keys (ORDER_DATE) are converted to field names.
func parseQuerySpec(c *fiber.Ctx) engine.QuerySpec {
	spec := engine.QuerySpec{
		PageNum:   firstInt(c, 1, "page", "pageNum"),
		PageSize:  firstInt(c, defaultPageSize, "size", "pageSize"),
		SortField: c.Query("sortField"),
		SortOrder: c.Query("sortOrder"),
	}
	if spec.PageNum < 1 {
		spec.PageNum = 1
	}

	for key, value := range c.Queries() {
		if reserved[key] || value == "" {
			continue
		}
		spec.Conditions = append(spec.Conditions, engine.Condition{
			Field:    filterField(key),
			Operator: "eq",
			Value:    value,
		})
	}
	// Map order is random; keep the generated SQL stable.
	sort.Slice(spec.Conditions, func(i, j int) bool { return spec.Conditions[i].Field < spec.Conditions[j].Field })
	return spec
}

func filterField(key string) string {
	if strings.Contains(key, "_") || key == strings.ToUpper(key) {
		return sqlfmt.ToField(key)
	}
	return key
}

func firstInt(c *fiber.Ctx, fallback int, keys ...string) int {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			if n, err := cast.ToIntE(v); err == nil {
				return n
			}
		}
	}
	return fallback
}
