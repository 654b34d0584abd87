package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
)

// DefaultPostChunk is the number of missing mappings posted per call
const DefaultPostChunk = 500

// ServiceConfig configures the mapping service
type ServiceConfig struct {
	ProviderCode string
	PostChunk    int
}

// Service keeps the local mapping tables in sync with the intake
type Service struct {
	store  *repository.Store
	client intake.DomainMappingClient
	clock  clock.Clock
	cfg    ServiceConfig
}

// NewService creates a mapping service
func NewService(store *repository.Store, client intake.DomainMappingClient, clk clock.Clock, cfg ServiceConfig) *Service {
	if cfg.PostChunk <= 0 {
		cfg.PostChunk = DefaultPostChunk
	}
	return &Service{store: store, client: client, clock: clk, cfg: cfg}
}

// LoadLookup builds the approved-mapping index of the provider
func (s *Service) LoadLookup(ctx context.Context) (*Lookup, error) {
	items, err := s.store.Read(ctx).DomainMapping.ApprovedForProvider(s.cfg.ProviderCode)
	if err != nil {
		return nil, fmt.Errorf("load approved mappings: %w", err)
	}
	return NewLookup(items), nil
}

// PostMissing reports every unposted or previously failed missing mapping
// to the intake. A chunk that fails is marked PostFailed and the next chunk
// is still attempted. It returns the number of rows posted.
func (s *Service) PostMissing(ctx context.Context) (int, error) {
	eligible, err := s.store.Read(ctx).DomainMapping.ListEligibleForPost(s.cfg.ProviderCode, 0)
	if err != nil {
		return 0, fmt.Errorf("list missing mappings: %w", err)
	}
	if len(eligible) == 0 {
		return 0, nil
	}
	log.Infof("[Mapping] Posting %d missing domain mappings for %s", len(eligible), s.cfg.ProviderCode)

	posted := 0
	var failures []error
	for start := 0; start < len(eligible); start += s.cfg.PostChunk {
		if err := ctx.Err(); err != nil {
			return posted, err
		}
		end := start + s.cfg.PostChunk
		if end > len(eligible) {
			end = len(eligible)
		}
		chunk := eligible[start:end]

		req := intake.InsertMissingRequest{ProviderDhsCode: s.cfg.ProviderCode}
		ids := make([]uint, 0, len(chunk))
		for _, m := range chunk {
			req.MismappedItems = append(req.MismappedItems, intake.MismappedItem{
				ProviderCodeValue: m.SourceValue,
				ProviderNameValue: m.SourceValue,
				DomainTableID:     m.DomainTableID,
				DomainTableName:   m.DomainTableName,
			})
			ids = append(ids, m.ID)
		}

		status, lastError := models.MappingStatusPosted, ""
		if err := s.client.InsertMissingMappings(ctx, req); err != nil {
			log.Warnf("[Mapping] Failed to post %d missing mappings: %v", len(chunk), err)
			status, lastError = models.MappingStatusPostFailed, err.Error()
			failures = append(failures, err)
		}

		now := s.clock.Now()
		if err := s.store.InTx(ctx, func(r *repository.Repositories) error {
			return r.DomainMapping.SetMissingStatus(ids, status, lastError, now)
		}); err != nil {
			return posted, fmt.Errorf("record post result: %w", err)
		}
		if status == models.MappingStatusPosted {
			posted += len(chunk)
		}
	}
	return posted, errors.Join(failures...)
}

// RefreshApproved pulls the provider's approved mappings. Approved rows are
// upserted, missing rows of the same key become Approved, and values the
// intake lists as missing are recorded locally.
func (s *Service) RefreshApproved(ctx context.Context) (approved int, missing int64, err error) {
	data, err := s.client.GetProviderMappings(ctx, s.cfg.ProviderCode)
	if err != nil {
		return 0, 0, fmt.Errorf("get provider mappings: %w", err)
	}

	var items []models.ApprovedDomainMapping
	for _, m := range data.DomainMappings {
		source := strings.TrimSpace(m.ProviderDomainValue)
		if source == "" {
			source = strings.TrimSpace(m.ProviderDomainCode)
		}
		target := strings.TrimSpace(m.DhsDomainValue.String())
		if target == "" || target == "0" {
			target = strings.TrimSpace(m.CodeValue)
		}
		if source == "" || target == "" || m.DomTableID == 0 {
			continue
		}
		items = append(items, models.ApprovedDomainMapping{
			ProviderCode:    s.cfg.ProviderCode,
			DomainTableID:   m.DomTableID,
			DomainTableName: m.DomainTableName,
			SourceValue:     source,
			TargetValue:     target,
			CodeValue:       m.CodeValue,
			DisplayValue:    m.DisplayValue,
		})
	}

	var unmapped []models.MissingDomainMapping
	for _, m := range data.MissingDomainMappings {
		source := strings.TrimSpace(m.ProviderCodeValue)
		if source == "" {
			source = strings.TrimSpace(m.ProviderNameValue)
		}
		if source == "" {
			continue
		}
		unmapped = append(unmapped, models.MissingDomainMapping{
			ProviderCode:    s.cfg.ProviderCode,
			DomainTableID:   m.DomainTableID,
			DomainTableName: m.DomainTableName,
			SourceValue:     source,
			DiscoverySource: models.DiscoverySourceFromAPI,
			Status:          models.MappingStatusPosted,
		})
	}

	now := s.clock.Now()
	err = s.store.InTx(ctx, func(r *repository.Repositories) error {
		if err := r.DomainMapping.UpsertApproved(items, now); err != nil {
			return err
		}
		n, err := r.DomainMapping.UpsertMissing(unmapped, now)
		missing = n
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("store provider mappings: %w", err)
	}

	log.Infof("[Mapping] Refreshed mappings for %s: %d approved, %d new missing", s.cfg.ProviderCode, len(items), missing)
	return len(items), missing, nil
}
