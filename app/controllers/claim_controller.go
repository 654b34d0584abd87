package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
)

// CompletionRequest is pushed by the reconciliation collaborator
type CompletionRequest struct {
	ClaimIDs []int64                 `json:"claimIds" validate:"required,min=1,max=1000,dive,gt=0"`
	Status   models.CompletionStatus `json:"status" validate:"required,oneof=unknown completed"`
}

// HandleClaimCounts summarises every claim of the provider
func (ac *APIController) HandleClaimCounts(c *fiber.Ctx) error {
	counts, err := ac.store.Read(c.UserContext()).Claim.CountByEnqueueStatus(ac.providerCode, nil)
	if err != nil {
		return ac.internalError(c, "Failed to count claims", err)
	}
	return c.JSON(counts)
}

// HandleSetCompletion records the downstream completion status of claims
func (ac *APIController) HandleSetCompletion(c *fiber.Ctx) error {
	var req CompletionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := ac.validate.Struct(req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	keys := make([]models.ClaimKey, 0, len(req.ClaimIDs))
	for _, id := range req.ClaimIDs {
		keys = append(keys, models.ClaimKey{ProviderCode: ac.providerCode, ClaimID: id})
	}
	if err := ac.store.InTx(c.UserContext(), func(r *repository.Repositories) error {
		return r.Claim.SetCompletionStatus(keys, req.Status, ac.clock.Now())
	}); err != nil {
		return ac.internalError(c, "Failed to update completion status", err)
	}

	log.Infof("[API] Completion status %s recorded for %d claims", req.Status, len(keys))
	return c.JSON(fiber.Map{"updated": len(keys), "status": req.Status})
}
