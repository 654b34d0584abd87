// Package middleware holds the fiber middlewares of the control API.
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
)

// LocalOperator is the fiber local holding the authenticated operator subject
const LocalOperator = "OPERATOR"

// TokenAuth authenticates control API callers. The bearer (or X-API-Key) must
// equal the configured token, or be an operator token signed with it for
// providerCode. An empty token rejects every request.
func TokenAuth(token, providerCode string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "API token not configured"})
		}
		presented := extractAPIKeyFromHeader(c)
		if presented == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API token"})
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			c.Locals(LocalOperator, "static")
			return c.Next()
		}

		claims, err := security.VerifyOperatorToken(presented, token)
		if err != nil {
			log.Debugf("[API] Rejected operator token: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API token"})
		}
		if claims.ProviderCode != providerCode {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Token issued for another provider"})
		}
		c.Locals(LocalOperator, claims.Subject)
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
