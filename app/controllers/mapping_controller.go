package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// HandleMissingMappings lists discovered values without an approved mapping,
// optionally filtered by ?status=
func (ac *APIController) HandleMissingMappings(c *fiber.Ctx) error {
	var status *models.MappingStatus
	if raw := strings.ToLower(strings.TrimSpace(c.Query("status"))); raw != "" {
		st := models.MappingStatus(raw)
		switch st {
		case models.MappingStatusMissing, models.MappingStatusPosted, models.MappingStatusApproved, models.MappingStatusPostFailed:
		default:
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Unknown mapping status: "+raw)
		}
		status = &st
	}

	items, err := ac.store.Read(c.UserContext()).DomainMapping.ListMissing(ac.providerCode, status)
	if err != nil {
		return ac.internalError(c, "Failed to list missing mappings", err)
	}
	return c.JSON(fiber.Map{"mappings": items, "count": len(items)})
}
