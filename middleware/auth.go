// middleware/auth.go
package middleware

import (
	"log"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware reads the operator identity and roles forwarded by the web layer.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		c.Locals("user_id", c.Get("X-User-ID"))
		c.Locals("user_roles", roles)
		return c.Next()
	}
}

// RequireRole rejects requests whose forwarded roles lack role. It expects
// UserContextMiddleware to run first.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("user_roles").([]string)
		if !slices.Contains(roles, role) {
			userID, _ := c.Locals("user_id").(string)
			log.Printf("🚫 [USER_CTX] %q lacks role %q for %s", userID, role, c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
			})
		}
		return c.Next()
	}
}
