package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
)

func newApp(token string) *fiber.App {
	app := fiber.New()
	app.Get("/", TokenAuth(token, "PRV1"), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalOperator).(string))
	})
	return app
}

func TestTokenAuth(t *testing.T) {
	const secret = "s3cret-token"
	operator, err := security.GenerateOperatorToken("alice", "PRV1", time.Hour, secret)
	require.NoError(t, err)
	foreign, err := security.GenerateOperatorToken("bob", "OTHER", time.Hour, secret)
	require.NoError(t, err)
	expired, err := security.GenerateOperatorToken("carol", "PRV1", -time.Minute, secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		header string
		value  string
		status int
		body   string
	}{
		{"static bearer", secret, "Authorization", "Bearer " + secret, fiber.StatusOK, "static"},
		{"static api key header", secret, "X-API-Key", secret, fiber.StatusOK, "static"},
		{"operator token", secret, "Authorization", "Bearer " + operator, fiber.StatusOK, "alice"},
		{"other provider", secret, "Authorization", "Bearer " + foreign, fiber.StatusForbidden, ""},
		{"expired operator token", secret, "Authorization", "Bearer " + expired, fiber.StatusUnauthorized, ""},
		{"wrong token", secret, "Authorization", "Bearer nope", fiber.StatusUnauthorized, ""},
		{"missing token", secret, "", "", fiber.StatusUnauthorized, ""},
		{"not configured", "", "Authorization", "Bearer anything", fiber.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := newApp(tt.token).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}
