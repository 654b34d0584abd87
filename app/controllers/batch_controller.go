package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
)

// CreateBatchRequest is the body of POST /batches
type CreateBatchRequest struct {
	CompanyCode string     `json:"companyCode" validate:"required,max=50"`
	MonthKey    string     `json:"monthKey" validate:"required,len=6,numeric"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
}

// BatchResponse is a batch together with its claim counts
type BatchResponse struct {
	models.Batch
	Claims models.ClaimCounts `json:"claims"`
}

var batchStatuses = map[models.BatchStatus]bool{
	models.BatchStatusDraft:     true,
	models.BatchStatusFetching:  true,
	models.BatchStatusReady:     true,
	models.BatchStatusSending:   true,
	models.BatchStatusEnqueued:  true,
	models.BatchStatusCompleted: true,
	models.BatchStatusFailed:    true,
}

// HandleListBatches lists batches, optionally filtered by ?status=a,b
func (ac *APIController) HandleListBatches(c *fiber.Ctx) error {
	var statuses []models.BatchStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := models.BatchStatus(strings.ToLower(strings.TrimSpace(s)))
			if !batchStatuses[st] {
				return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Unknown batch status: "+s)
			}
			statuses = append(statuses, st)
		}
	}

	batches, err := ac.store.Read(c.UserContext()).Batch.ListByStatus(ac.providerCode, statuses...)
	if err != nil {
		return ac.internalError(c, "Failed to list batches", err)
	}
	return c.JSON(fiber.Map{"batches": batches, "count": len(batches)})
}

// HandleCreateBatch creates a Draft batch for a company and month
func (ac *APIController) HandleCreateBatch(c *fiber.Ctx) error {
	var req CreateBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	req.CompanyCode = strings.TrimSpace(req.CompanyCode)
	if err := ac.validate.Struct(req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if _, err := time.Parse("200601", req.MonthKey); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", "monthKey must be YYYYMM")
	}
	if (req.StartDate == nil) != (req.EndDate == nil) {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", "startDate and endDate must be given together")
	}
	if req.StartDate != nil && !req.EndDate.After(*req.StartDate) {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", "endDate must be after startDate")
	}

	batch := &models.Batch{
		ProviderCode: ac.providerCode,
		CompanyCode:  req.CompanyCode,
		MonthKey:     req.MonthKey,
	}
	if req.StartDate != nil {
		start, end := req.StartDate.UTC(), req.EndDate.UTC()
		batch.StartDate, batch.EndDate = &start, &end
	}

	err := ac.store.InTx(c.UserContext(), func(r *repository.Repositories) error {
		if _, err := r.Batch.GetByKey(batch.ProviderCode, batch.CompanyCode, batch.MonthKey); err == nil {
			return errBatchExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		now := ac.clock.Now()
		batch.CreatedAt, batch.UpdatedAt = now, now
		return r.Batch.CreateDraft(batch)
	})
	if errors.Is(err, errBatchExists) {
		return errorJSON(c, fiber.StatusConflict, "conflict", "A batch for this company and month already exists")
	}
	if err != nil {
		return ac.internalError(c, "Failed to create batch", err)
	}

	log.Infof("[API] Created batch %d for %s/%s", batch.ID, batch.CompanyCode, batch.MonthKey)
	return c.Status(fiber.StatusCreated).JSON(batch)
}

var errBatchExists = errors.New("batch exists")

// HandleGetBatch returns a batch with its claim counts
func (ac *APIController) HandleGetBatch(c *fiber.Ctx) error {
	batch, ok, err := ac.batchParam(c)
	if !ok {
		return err
	}
	counts, err := ac.store.Read(c.UserContext()).Claim.CountByEnqueueStatus(ac.providerCode, &batch.ID)
	if err != nil {
		return ac.internalError(c, "Failed to count claims", err)
	}
	return c.JSON(BatchResponse{Batch: *batch, Claims: counts})
}

// HandleDeleteBatch removes a batch and everything staged for it. Batches
// being fetched or sent are refused.
func (ac *APIController) HandleDeleteBatch(c *fiber.Ctx) error {
	batch, ok, err := ac.batchParam(c)
	if !ok {
		return err
	}
	if batch.Status == models.BatchStatusFetching || batch.Status == models.BatchStatusSending {
		return errorJSON(c, fiber.StatusConflict, "conflict", "Batch is "+string(batch.Status)+" and cannot be deleted")
	}
	if err := ac.store.InTx(c.UserContext(), func(r *repository.Repositories) error {
		return r.Batch.Delete(batch.ID)
	}); err != nil {
		return ac.internalError(c, "Failed to delete batch", err)
	}
	log.Infof("[API] Deleted batch %d", batch.ID)
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleBatchClaimCounts summarises the claims of a batch by enqueue status
func (ac *APIController) HandleBatchClaimCounts(c *fiber.Ctx) error {
	batch, ok, err := ac.batchParam(c)
	if !ok {
		return err
	}
	counts, err := ac.store.Read(c.UserContext()).Claim.CountByEnqueueStatus(ac.providerCode, &batch.ID)
	if err != nil {
		return ac.internalError(c, "Failed to count claims", err)
	}
	return c.JSON(counts)
}

// HandleBatchDispatches lists the dispatches of a batch in sequence order
func (ac *APIController) HandleBatchDispatches(c *fiber.Ctx) error {
	batch, ok, err := ac.batchParam(c)
	if !ok {
		return err
	}
	dispatches, err := ac.store.Read(c.UserContext()).Dispatch.ListByBatch(batch.ID)
	if err != nil {
		return ac.internalError(c, "Failed to list dispatches", err)
	}
	return c.JSON(fiber.Map{"dispatches": dispatches, "count": len(dispatches)})
}

// HandleBatchIssues lists the validation issues recorded while staging
func (ac *APIController) HandleBatchIssues(c *fiber.Ctx) error {
	batch, ok, err := ac.batchParam(c)
	if !ok {
		return err
	}
	issues, err := ac.store.Read(c.UserContext()).Issue.ListByBatch(batch.ID)
	if err != nil {
		return ac.internalError(c, "Failed to list issues", err)
	}
	return c.JSON(fiber.Map{"issues": issues, "count": len(issues)})
}
