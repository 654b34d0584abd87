package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// StatsResponse is the dashboard summary of the provider
type StatsResponse struct {
	Batches    []models.StatusCount `json:"batches"`
	Dispatches []models.StatusCount `json:"dispatches"`
	Claims     models.ClaimCounts   `json:"claims"`
}

// HandleStats summarises batches, dispatches and claims by status
func (ac *APIController) HandleStats(c *fiber.Ctx) error {
	r := ac.store.Read(c.UserContext())

	batches, err := r.Batch.CountByStatus(ac.providerCode)
	if err != nil {
		return ac.internalError(c, "Failed to count batches", err)
	}
	dispatches, err := r.Dispatch.CountByStatus(ac.providerCode)
	if err != nil {
		return ac.internalError(c, "Failed to count dispatches", err)
	}
	claims, err := r.Claim.CountByEnqueueStatus(ac.providerCode, nil)
	if err != nil {
		return ac.internalError(c, "Failed to count claims", err)
	}
	return c.JSON(StatsResponse{Batches: batches, Dispatches: dispatches, Claims: claims})
}

// HandleBatchAttachmentCounts summarises the attachments of a batch by upload status
func (ac *APIController) HandleBatchAttachmentCounts(c *fiber.Ctx) error {
	batch, ok, err := ac.batchParam(c)
	if !ok {
		return err
	}
	counts, err := ac.store.Read(c.UserContext()).Attachment.CountByStatus(batch.ID)
	if err != nil {
		return ac.internalError(c, "Failed to count attachments", err)
	}
	return c.JSON(fiber.Map{"attachments": counts})
}
