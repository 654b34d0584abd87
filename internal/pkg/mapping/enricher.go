package mapping

import (
	"strconv"
	"strings"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
)

// Enricher replaces known provider values with approved domain values
type Enricher struct {
	tables FieldTables
}

// NewEnricher creates an enricher over the given rule tables
func NewEnricher(tables FieldTables) *Enricher {
	return &Enricher{tables: tables}
}

// Enrich applies every rule to the bundle in place and returns the number
// of fields written. Values without an approved mapping are left as they are.
func (e *Enricher) Enrich(b claims.Bundle, lookup *Lookup) int {
	if lookup.Len() == 0 {
		return 0
	}
	n := 0
	if h := b.Header(); h != nil {
		n += applyRules(h, e.tables.Header, lookup)
	}
	for _, row := range b.Section(claims.SectionServiceDetails) {
		n += applyRules(row, e.tables.Service, lookup)
	}
	for _, row := range b.Section(claims.SectionDiagnosisDetails) {
		n += applyRules(row, e.tables.Diagnosis, lookup)
	}
	for _, row := range b.Section(claims.SectionDoctors) {
		n += applyRules(row, e.tables.Doctor, lookup)
	}
	return n
}

func applyRules(obj claims.Object, rules []FieldRule, lookup *Lookup) int {
	n := 0
	for _, rule := range rules {
		raw, ok := claims.Get(obj, rule.Source)
		if !ok {
			continue
		}
		m, ok := lookup.Find(rule.DomainTableID, claims.String(raw))
		if !ok {
			continue
		}
		if rule.IntValued {
			id, err := strconv.ParseInt(strings.TrimSpace(m.TargetValue), 10, 64)
			if err != nil {
				continue
			}
			obj[rule.Target] = id
		} else {
			obj[rule.Target] = commonType(m)
		}
		n++
	}
	return n
}

// commonType is the structured value the intake expects for mapped fields
func commonType(m models.ApprovedDomainMapping) map[string]interface{} {
	code := m.CodeValue
	if code == "" {
		code = m.TargetValue
	}
	name := m.DisplayValue
	if name == "" {
		name = m.SourceValue
	}
	return map[string]interface{}{
		"id":      m.TargetValue,
		"code":    code,
		"name":    name,
		"ksaID":   nil,
		"ksaCode": nil,
		"ksaName": nil,
	}
}
