package instrument

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"metatable/internal/config"
	"metatable/internal/metadata"
)

// Middleware returns a Fiber middleware that sets up tracing for each request.
// It generates (or propagates) a trace ID, creates a root HTTP span, and injects
// the instrumenter into the request context for downstream handlers.
func Middleware(cfg config.InstrumentationConfig) fiber.Handler {
	inst := NewLogInstrumenter(time.Duration(cfg.SlowMs) * time.Millisecond)

	return func(c *fiber.Ctx) error {
		if !cfg.Enabled {
			return c.Next()
		}

		// Sampling: skip tracing for a proportion of requests
		if cfg.SamplingRate < 1.0 && rand.Float64() > cfg.SamplingRate {
			return c.Next()
		}

		// Get or generate trace ID from incoming header
		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newUUID()
		}

		ctx := c.UserContext()
		ctx = WithTraceID(ctx, traceID)
		ctx = WithInstrumenter(ctx, inst)
		if user, ok := c.Locals("user").(*metadata.UserContext); ok && user != nil {
			ctx = WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		}

		ctx, span := inst.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)

		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		statusCode := c.Response().StatusCode()
		span.SetMetadata("status_code", statusCode)
		if err != nil || statusCode >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()

		return err
	}
}
