package router

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// DocsRouter serves the control API description with swagger UI under
// /docs/api/v1. A document that is missing or fails validation is not served.
type DocsRouter struct {
	filePath string
}

func NewDocsRouter(filePath string) *DocsRouter {
	return &DocsRouter{filePath: filePath}
}

func (d DocsRouter) InstallRouter(app *fiber.App) {
	if d.filePath == "" {
		return
	}
	if _, err := LoadAPIDocs(context.Background(), d.filePath); err != nil {
		log.Warnf("[Router] API docs not served: %v", err)
		return
	}

	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: d.filePath,
		Path:     "v1",
		Title:    "ClaimAgent API",
	}))
}

// LoadAPIDocs parses and validates an OpenAPI 3 document
func LoadAPIDocs(ctx context.Context, filePath string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filePath, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate %s: %w", filePath, err)
	}
	return doc, nil
}
