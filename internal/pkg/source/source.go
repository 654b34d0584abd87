// Package source reads claims from the provider's own database.
package source

import (
	"context"
	"time"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
)

// Range selects the claims of one batch. End is exclusive.
type Range struct {
	ProviderCode string
	CompanyCode  string
	Start        time.Time
	End          time.Time
}

// RawClaim is one claim as read from the provider, before building
type RawClaim struct {
	ClaimID     int64
	Parts       claims.Parts
	Attachments []claims.Object
}

// Provider is the read side of a provider system
type Provider interface {
	CountClaims(ctx context.Context, r Range) (int64, error)
	// ListClaimKeys returns up to limit claim ids greater than afterClaimID, ascending
	ListClaimKeys(ctx context.Context, r Range, afterClaimID int64, limit int) ([]int64, error)
	GetClaims(ctx context.Context, providerCode string, claimIDs []int64) ([]RawClaim, error)
	// GetAttachments returns the raw attachment rows of the given claims, keyed by claim id
	GetAttachments(ctx context.Context, providerCode string, claimIDs []int64) (map[int64][]claims.Object, error)
}
