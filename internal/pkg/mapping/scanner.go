package mapping

import (
	"strings"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
)

// ScannedValue is a provider value found in a bundle for a domain
type ScannedValue struct {
	DomainTableID int
	DomainName    string
	Value         string
}

// Scanner collects the values of the scanned domain fields
type Scanner struct {
	domains []ScanDomain
}

// NewScanner creates a scanner over the given domains
func NewScanner(domains []ScanDomain) *Scanner {
	return &Scanner{domains: domains}
}

// Scan returns the distinct non-blank values of the bundle, in domain order
func (s *Scanner) Scan(b claims.Bundle) []ScannedValue {
	seen := make(map[lookupKey]struct{})
	var out []ScannedValue

	add := func(d ScanDomain, raw interface{}) {
		v := strings.TrimSpace(claims.String(raw))
		if v == "" {
			return
		}
		k := lookupKey{d.DomainTableID, normalize(v)}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, ScannedValue{DomainTableID: d.DomainTableID, DomainName: d.DomainName, Value: v})
	}

	for _, d := range s.domains {
		if d.Section == claims.SectionHeader {
			if h := b.Header(); h != nil {
				if raw, ok := claims.Get(h, d.Field); ok {
					add(d, raw)
				}
			}
			continue
		}
		for _, row := range b.Section(d.Section) {
			if raw, ok := claims.Get(row, d.Field); ok {
				add(d, raw)
			}
		}
	}
	return out
}

// Missing turns scanned values without an approved mapping into missing
// mapping rows discovered locally
func Missing(providerCode string, values []ScannedValue, lookup *Lookup) []models.MissingDomainMapping {
	var out []models.MissingDomainMapping
	for _, v := range values {
		if _, ok := lookup.Find(v.DomainTableID, v.Value); ok {
			continue
		}
		out = append(out, models.MissingDomainMapping{
			ProviderCode:    providerCode,
			DomainTableID:   v.DomainTableID,
			DomainTableName: v.DomainName,
			SourceValue:     v.Value,
			DiscoverySource: models.DiscoverySourceScannedLocally,
			Status:          models.MappingStatusMissing,
		})
	}
	return out
}
