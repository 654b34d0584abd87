package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/engine"
)

// HandleEngineStatus reports whether the engine runs and how its workers fare
func (ac *APIController) HandleEngineStatus(c *fiber.Ctx) error {
	return c.JSON(ac.engine.Status())
}

// HandleEngineStart runs crash recovery and starts the workers
func (ac *APIController) HandleEngineStart(c *fiber.Ctx) error {
	if err := ac.engine.Start(c.UserContext()); err != nil {
		if errors.Is(err, engine.ErrRecoveryFailed) {
			return errorJSON(c, fiber.StatusServiceUnavailable, "recovery_failed", err.Error())
		}
		return ac.internalError(c, "Failed to start engine", err)
	}
	return c.JSON(ac.engine.Status())
}

// HandleEngineStop stops the workers and waits for them
func (ac *APIController) HandleEngineStop(c *fiber.Ctx) error {
	ac.engine.Stop()
	return c.JSON(ac.engine.Status())
}
