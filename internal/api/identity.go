package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
)

// Identity headers set by the gateway that authenticated the caller.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserRoles = "X-User-Roles"
)

// Identity reads the caller from the identity headers and stores it under
// Locals("user"). Requests without headers proceed anonymously.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawID := strings.TrimSpace(c.Get(HeaderUserID))
		name := strings.TrimSpace(c.Get(HeaderUserName))
		if rawID == "" && name == "" {
			return c.Next()
		}

		user := &metadata.UserContext{Username: name}
		if rawID != "" {
			id, err := cast.ToInt64E(rawID)
			if err != nil {
				return apperr.InvalidArgumentf("invalid %s header %q", HeaderUserID, rawID)
			}
			user.ID = id
		}
		for _, r := range strings.Split(c.Get(HeaderUserRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				user.Roles = append(user.Roles, r)
			}
		}

		c.Locals("user", user)
		return c.Next()
	}
}

// GetUser returns the caller set by Identity, or nil.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
