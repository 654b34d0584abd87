package mapping

import (
	"strings"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

type lookupKey struct {
	table int
	value string
}

// Lookup is an immutable index of approved mappings keyed by domain table
// and normalised source value
type Lookup struct {
	items map[lookupKey]models.ApprovedDomainMapping
}

// NewLookup indexes approved mappings. Later entries win on duplicate keys.
func NewLookup(items []models.ApprovedDomainMapping) *Lookup {
	l := &Lookup{items: make(map[lookupKey]models.ApprovedDomainMapping, len(items))}
	for _, item := range items {
		l.items[lookupKey{item.DomainTableID, normalize(item.SourceValue)}] = item
	}
	return l
}

// Find returns the approved mapping of a raw value
func (l *Lookup) Find(domainTableID int, raw string) (models.ApprovedDomainMapping, bool) {
	if l == nil {
		return models.ApprovedDomainMapping{}, false
	}
	v := normalize(raw)
	if v == "" {
		return models.ApprovedDomainMapping{}, false
	}
	m, ok := l.items[lookupKey{domainTableID, v}]
	return m, ok
}

// Len returns the number of indexed mappings
func (l *Lookup) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// NormalizeValue returns the comparison form of a provider value
func NormalizeValue(v string) string {
	return normalize(v)
}
