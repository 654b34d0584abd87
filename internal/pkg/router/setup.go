package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the metrics endpoint and the API docs first so they
// stay outside the API rate limit, then the control API.
func InstallRouter(app *fiber.App, api *ApiRouter, metrics *MetricsRouter, docs *DocsRouter) {
	setup(app, metrics, docs, api)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
