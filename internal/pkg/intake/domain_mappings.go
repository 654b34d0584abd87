package intake

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/gofiber/fiber/v2"
)

// DomainMappingClient exchanges domain mappings with the intake
type DomainMappingClient interface {
	InsertMissingMappings(ctx context.Context, req InsertMissingRequest) error
	GetProviderMappings(ctx context.Context, providerCode string) (*ProviderMappings, error)
}

// InsertMissingRequest reports provider values without an approved mapping
type InsertMissingRequest struct {
	ProviderDhsCode string          `json:"providerDhsCode"`
	MismappedItems  []MismappedItem `json:"mismappedItems"`
}

// MismappedItem is one unmapped provider value
type MismappedItem struct {
	ProviderCodeValue string `json:"providerCodeValue"`
	ProviderNameValue string `json:"providerNameValue"`
	DomainTableID     int    `json:"domainTableId"`
	DomainTableName   string `json:"domainTableName,omitempty"`
}

// ProviderMappings is the approved and still-missing mapping state of a provider
type ProviderMappings struct {
	DomainMappings        []ApprovedMapping `json:"domainMappings"`
	MissingDomainMappings []MissingMapping  `json:"missingDomainMappings"`
}

// ApprovedMapping is one approved translation
type ApprovedMapping struct {
	DomTableID          int         `json:"domTable_ID"`
	DomainTableName     string      `json:"domainTableName"`
	ProviderDomainCode  string      `json:"providerDomainCode"`
	ProviderDomainValue string      `json:"providerDomainValue"`
	DhsDomainValue      json.Number `json:"dhsDomainValue"`
	CodeValue           string      `json:"codeValue"`
	DisplayValue        string      `json:"displayValue"`
}

// MissingMapping is a value the intake knows to be unmapped
type MissingMapping struct {
	ProviderCodeValue string `json:"providerCodeValue"`
	ProviderNameValue string `json:"providerNameValue"`
	DomainTableID     int    `json:"domainTableId"`
	DomainTableName   string `json:"domainTableName"`
}

// InsertMissingMappings posts unmapped values
func (c *Client) InsertMissingMappings(ctx context.Context, req InsertMissingRequest) error {
	resp, err := c.postJSON(ctx, pathInsertMissing, req, false, "")
	if err != nil {
		return err
	}
	if len(resp.body) == 0 {
		return nil
	}
	env, err := decodeEnvelope(resp.body)
	if err != nil {
		return err
	}
	if env.failed() {
		return env.failure("insert missing mappings returned succeeded=false")
	}
	return nil
}

// GetProviderMappings fetches the provider's approved and missing mappings
func (c *Client) GetProviderMappings(ctx context.Context, providerCode string) (*ProviderMappings, error) {
	resp, err := c.do(ctx, call{method: fiber.MethodGet, path: pathProviderMappings + url.PathEscape(providerCode)})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(resp.body)
	if err != nil {
		return nil, err
	}
	if env.failed() {
		return nil, env.failure("get provider mappings returned succeeded=false")
	}

	out := &ProviderMappings{}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return nil, err
	}
	return out, nil
}
