package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/ClaimAgent/app/controllers"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/middleware"
)

// ApiRouter mounts the local control API under /api/v1
type ApiRouter struct {
	controller   *controllers.APIController
	token        string
	providerCode string
	storage      fiber.Storage
	maxRequests  int
}

// NewApiRouter builds the router. storage backs the rate limiter and may be
// nil, in which case the limiter keeps its counters in memory.
func NewApiRouter(ac *controllers.APIController, token, providerCode string, storage fiber.Storage) *ApiRouter {
	return &ApiRouter{
		controller:   ac,
		token:        token,
		providerCode: providerCode,
		storage:      storage,
		maxRequests:  120,
	}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        h.maxRequests,
		Expiration: time.Minute,
		Storage:    h.storage,
	}))

	v1 := api.Group("/v1", middleware.TokenAuth(h.token, h.providerCode))
	ac := h.controller

	v1.Get("/engine", ac.HandleEngineStatus)
	v1.Post("/engine/start", ac.HandleEngineStart)
	v1.Post("/engine/stop", ac.HandleEngineStop)

	v1.Get("/batches", ac.HandleListBatches)
	v1.Post("/batches", ac.HandleCreateBatch)
	v1.Get("/batches/:id", ac.HandleGetBatch)
	v1.Delete("/batches/:id", ac.HandleDeleteBatch)
	v1.Get("/batches/:id/claims/counts", ac.HandleBatchClaimCounts)
	v1.Get("/batches/:id/dispatches", ac.HandleBatchDispatches)
	v1.Get("/batches/:id/issues", ac.HandleBatchIssues)
	v1.Get("/batches/:id/attachments/counts", ac.HandleBatchAttachmentCounts)

	v1.Get("/claims/counts", ac.HandleClaimCounts)
	v1.Post("/claims/completion", ac.HandleSetCompletion)

	v1.Get("/mappings/missing", ac.HandleMissingMappings)
	v1.Get("/progress", ac.HandleProgress)
	v1.Get("/stats", ac.HandleStats)
}
