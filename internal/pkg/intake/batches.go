package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// BatchClient registers batches with the intake
type BatchClient interface {
	CreateBatch(ctx context.Context, item CreateBatchItem) (string, error)
}

// CreateBatchItem describes one batch to register
type CreateBatchItem struct {
	CompanyCode     string    `json:"companyCode"`
	BatchStartDate  time.Time `json:"batchStartDate"`
	BatchEndDate    time.Time `json:"batchEndDate"`
	TotalClaims     int64     `json:"totalClaims"`
	ProviderDhsCode string    `json:"providerDhsCode"`
}

type createBatchEnvelope struct {
	BatchRequests []CreateBatchItem `json:"batchRequests"`
}

type createBatchResponse struct {
	Succeeded *bool           `json:"succeeded"`
	Message   string          `json:"message"`
	BatchID   json.RawMessage `json:"batchId"`
}

// CreateBatch registers a batch and returns the remote batch reference
func (c *Client) CreateBatch(ctx context.Context, item CreateBatchItem) (string, error) {
	if item.CompanyCode == "" || item.ProviderDhsCode == "" {
		return "", errors.New("create batch: company and provider code are required")
	}
	if item.BatchEndDate.Before(item.BatchStartDate) {
		return "", errors.New("create batch: end date before start date")
	}

	resp, err := c.postJSON(ctx, pathCreateBatch, createBatchEnvelope{BatchRequests: []CreateBatchItem{item}}, c.cfg.Gzip, "")
	if err != nil {
		return "", err
	}

	var out createBatchResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", err
	}
	if out.Succeeded != nil && !*out.Succeeded {
		if out.Message == "" {
			out.Message = "create batch returned succeeded=false"
		}
		return "", errors.New(out.Message)
	}

	id := string(out.BatchID)
	if s, err := strconv.Unquote(id); err == nil {
		id = s
	}
	if id == "" || id == "null" || id == "0" {
		return "", errors.New("create batch: response has no batch id")
	}
	return id, nil
}
