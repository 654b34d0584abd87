package router

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ClaimAgent/app/controllers"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/engine"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/testutil"
)

type idleEngine struct{}

func (idleEngine) Start(context.Context) error { return nil }
func (idleEngine) Stop()                       {}
func (idleEngine) Status() engine.Status       { return engine.Status{} }

const docsFile = "../../../docs/v1/openapi.yml"

func newApp(t *testing.T, metricsPassword, docsPath string) *fiber.App {
	t.Helper()
	store := repository.NewStore(testutil.OpenDB(t))
	ac := controllers.NewAPIController(store, idleEngine{}, nil, clock.System(), "PRV1")

	app := fiber.New()
	InstallRouter(app,
		NewApiRouter(ac, "secret", "PRV1", nil),
		NewMetricsRouter("admin", metricsPassword),
		NewDocsRouter(docsPath),
	)
	return app
}

func TestApiRoutesRequireToken(t *testing.T) {
	app := newApp(t, "", "")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"engine without token", "GET", "/api/v1/engine", "", fiber.StatusUnauthorized},
		{"engine with token", "GET", "/api/v1/engine", "secret", fiber.StatusOK},
		{"batches with token", "GET", "/api/v1/batches", "secret", fiber.StatusOK},
		{"claim counts with token", "GET", "/api/v1/claims/counts", "secret", fiber.StatusOK},
		{"progress with token", "GET", "/api/v1/progress", "secret", fiber.StatusOK},
		{"missing mappings with token", "GET", "/api/v1/mappings/missing", "secret", fiber.StatusOK},
		{"unknown batch", "GET", "/api/v1/batches/42", "secret", fiber.StatusNotFound},
		{"wrong token", "GET", "/api/v1/batches", "nope", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	resp, err := newApp(t, "", "").Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	app := newApp(t, "pw", "")
	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("admin", "pw")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIDocsDescribeEveryRoute(t *testing.T) {
	doc, err := LoadAPIDocs(context.Background(), docsFile)
	require.NoError(t, err)

	app := newApp(t, "", "")
	var checked int
	for _, r := range app.GetRoutes(true) {
		if r.Method == fiber.MethodHead || !strings.HasPrefix(r.Path, "/api/v1/") {
			continue
		}
		p := strings.ReplaceAll(strings.TrimPrefix(r.Path, "/api/v1"), ":id", "{id}")
		item := doc.Paths.Find(p)
		require.NotNil(t, item, "path %s is not documented", p)
		assert.NotNil(t, item.GetOperation(r.Method), "%s %s is not documented", r.Method, p)
		checked++
	}
	assert.Equal(t, 16, checked)
}

func TestAPIDocsServed(t *testing.T) {
	app := newApp(t, "", docsFile)
	resp, err := app.Test(httptest.NewRequest("GET", "/docs/api/v1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = newApp(t, "", "missing.yml").Test(httptest.NewRequest("GET", "/docs/api/v1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
