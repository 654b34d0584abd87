package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/engine"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
)

// EngineControl is the part of the engine the API drives
type EngineControl interface {
	Start(ctx context.Context) error
	Stop()
	Status() engine.Status
}

// ProgressFeed exposes recently reported progress events
type ProgressFeed interface {
	Recent() []progress.Event
}

// APIController serves the control API of one agent
type APIController struct {
	store        *repository.Store
	engine       EngineControl
	progress     ProgressFeed
	clock        clock.Clock
	providerCode string
	validate     *validator.Validate
}

// NewAPIController creates the control API controller
func NewAPIController(store *repository.Store, eng EngineControl, feed ProgressFeed, clk clock.Clock, providerCode string) *APIController {
	if clk == nil {
		clk = clock.System()
	}
	return &APIController{
		store:        store,
		engine:       eng,
		progress:     feed,
		clock:        clk,
		providerCode: providerCode,
		validate:     validator.New(),
	}
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func (ac *APIController) internalError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[API] %s: %v", message, err)
	return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", message)
}

// batchParam loads the batch named by :id. When ok is false the error
// response has been written and err is what the handler returns.
func (ac *APIController) batchParam(c *fiber.Ctx) (batch *models.Batch, ok bool, err error) {
	id, perr := strconv.ParseUint(c.Params("id"), 10, 64)
	if perr != nil || id == 0 {
		return nil, false, errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid batch id")
	}
	batch, err = ac.store.Read(c.UserContext()).Batch.GetByID(uint(id))
	if errors.Is(err, repository.ErrNotFound) || (err == nil && batch.ProviderCode != ac.providerCode) {
		return nil, false, errorJSON(c, fiber.StatusNotFound, "not_found", "Batch not found")
	}
	if err != nil {
		return nil, false, ac.internalError(c, "Failed to load batch", err)
	}
	return batch, true, nil
}

// HandleProgress returns the recent progress events
func (ac *APIController) HandleProgress(c *fiber.Ctx) error {
	events := []progress.Event{}
	if ac.progress != nil {
		events = append(events, ac.progress.Recent()...)
	}
	return c.JSON(fiber.Map{"events": events})
}
