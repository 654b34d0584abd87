package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// MetricsRouter serves the fiber monitor page behind basic auth. Without a
// password the endpoint is not mounted at all.
type MetricsRouter struct {
	user     string
	password string
}

func NewMetricsRouter(user, password string) *MetricsRouter {
	return &MetricsRouter{user: user, password: password}
}

func (m MetricsRouter) InstallRouter(app *fiber.App) {
	if m.password == "" {
		return
	}
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{m.user: m.password},
	}), monitor.New(monitor.Config{Title: "ClaimAgent Metrics"}))
}
