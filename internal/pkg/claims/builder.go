package claims

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMissingHeader is returned when a payload has no header object
var ErrMissingHeader = errors.New("bundle has no claimHeader object")

// Issue codes
const (
	IssueMissingHeader       = "MissingHeader"
	IssueMissingProIdClaim   = "MissingProIdClaim"
	IssueMissingCompanyCode  = "MissingCompanyCode"
	IssueMissingMonthKeyDate = "MissingMonthKeyDate"
)

// Issue is a validation finding on one field of a raw claim
type Issue struct {
	Type       string `json:"type"`
	FieldPath  string `json:"fieldPath"`
	RawValue   string `json:"rawValue,omitempty"`
	Message    string `json:"message"`
	IsBlocking bool   `json:"isBlocking"`
}

// Options names the header fields the builder reads. Candidates are tried
// in order.
type Options struct {
	ClaimIDFields   []string
	CompanyFields   []string
	MonthDateFields []string
}

// DefaultOptions returns the field candidates used in production
func DefaultOptions() Options {
	return Options{
		ClaimIDFields:   []string{"proIdClaim", "ProIdClaim", "claimId", "ClaimId"},
		CompanyFields:   []string{"companyCode", "CompanyCode"},
		MonthDateFields: []string{"invoiceDate", "InvoiceDate", "claimDate", "ClaimDate", "createdDate", "CreatedDate"},
	}
}

// Result is the outcome of Build. Bundle is nil when a blocking issue was found.
type Result struct {
	ClaimID     int64
	CompanyCode string
	MonthKey    string
	Bundle      Bundle
	Issues      []Issue
}

// OK reports whether the build produced a bundle
func (r Result) OK() bool {
	return r.Bundle != nil
}

// Builder turns raw claim parts into canonical bundles
type Builder struct {
	opts Options
}

// NewBuilder creates a Builder. Zero-value option lists fall back to the defaults.
func NewBuilder(opts Options) *Builder {
	def := DefaultOptions()
	if len(opts.ClaimIDFields) == 0 {
		opts.ClaimIDFields = def.ClaimIDFields
	}
	if len(opts.CompanyFields) == 0 {
		opts.CompanyFields = def.CompanyFields
	}
	if len(opts.MonthDateFields) == 0 {
		opts.MonthDateFields = def.MonthDateFields
	}
	return &Builder{opts: opts}
}

// Build validates parts and assembles the canonical bundle. The input is not
// modified. Building stops at the first blocking issue.
func (b *Builder) Build(parts Parts, companyCode string) Result {
	if parts.Header == nil {
		return blocked(Issue{Type: IssueMissingHeader, FieldPath: SectionHeader, Message: "claim header is missing"})
	}
	header := Clone(parts.Header).(map[string]interface{})

	claimID, raw, ok := b.readClaimID(header)
	if !ok {
		return blocked(Issue{
			Type:      IssueMissingProIdClaim,
			FieldPath: SectionHeader + ".proIdClaim",
			RawValue:  raw,
			Message:   "claim id is missing or not an integer",
		})
	}
	for _, name := range b.opts.ClaimIDFields {
		RemoveIgnoreCase(header, name)
	}
	header["proIdClaim"] = claimID

	company := strings.TrimSpace(companyCode)
	if company == "" {
		return blocked(Issue{
			Type:      IssueMissingCompanyCode,
			FieldPath: SectionHeader + ".companyCode",
			RawValue:  companyCode,
			Message:   "company code of the run is blank",
		})
	}
	headerCompany, ok := b.readString(header, b.opts.CompanyFields)
	if !ok {
		headerCompany = company
	}
	for _, name := range b.opts.CompanyFields {
		RemoveIgnoreCase(header, name)
	}
	header["companyCode"] = headerCompany

	monthKey, raw, ok := b.readMonthKey(header)
	if !ok {
		return blocked(Issue{
			Type:      IssueMissingMonthKeyDate,
			FieldPath: SectionHeader + ".invoiceDate|claimDate",
			RawValue:  raw,
			Message:   "no parseable invoice, claim or created date",
		})
	}

	bundle := Bundle{SectionHeader: header}
	sections := map[string][]interface{}{
		SectionServiceDetails:    parts.ServiceDetails,
		SectionDiagnosisDetails:  parts.DiagnosisDetails,
		SectionLabDetails:        parts.LabDetails,
		SectionRadiologyDetails:  parts.RadiologyDetails,
		SectionOpticalVitalSigns: parts.OpticalVitalSigns,
		SectionDoctors:           parts.Doctors,
	}
	for _, name := range DetailSections {
		rows := Clone(nonNil(sections[name])).([]interface{})
		bundle[name] = rows
		for _, row := range rows {
			obj, ok := row.(map[string]interface{})
			if !ok {
				continue
			}
			stampClaimID(name, obj, claimID)
		}
	}

	NormalizeDiagnosisDates(bundle)
	Sanitize(bundle)

	return Result{
		ClaimID:     claimID,
		CompanyCode: company,
		MonthKey:    monthKey,
		Bundle:      bundle,
	}
}

// stampClaimID writes the claim id onto a detail row. Service rows carry it
// as the lowercase string field the intake expects there; the other clinical
// sections carry an integer proIdClaim. Doctor rows are left alone.
func stampClaimID(section string, row Object, claimID int64) {
	switch section {
	case SectionServiceDetails:
		RemoveIgnoreCase(row, "proidclaim")
		row["proidclaim"] = strconv.FormatInt(claimID, 10)
	case SectionDoctors:
	default:
		RemoveIgnoreCase(row, "proIdClaim")
		row["proIdClaim"] = claimID
	}
}

func (b *Builder) readClaimID(header Object) (int64, string, bool) {
	var raw string
	for _, name := range b.opts.ClaimIDFields {
		v, ok := Get(header, name)
		if !ok || v == nil {
			continue
		}
		if id, ok := AsInt64(v); ok {
			return id, "", true
		}
		if raw == "" {
			raw = String(v)
		}
	}
	return 0, raw, false
}

func (b *Builder) readString(header Object, names []string) (string, bool) {
	for _, name := range names {
		v, ok := Get(header, name)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(String(v)); s != "" {
			return s, true
		}
	}
	return "", false
}

func (b *Builder) readMonthKey(header Object) (string, string, bool) {
	var raw string
	for _, name := range b.opts.MonthDateFields {
		v, ok := Get(header, name)
		if !ok {
			continue
		}
		s := String(v)
		if t, ok := ParseDate(s); ok {
			return t.Format("200601"), "", true
		}
		if raw == "" {
			raw = s
		}
	}
	return "", raw, false
}

func blocked(issue Issue) Result {
	issue.IsBlocking = true
	return Result{Issues: []Issue{issue}}
}

func nonNil(rows []interface{}) []interface{} {
	if rows == nil {
		return []interface{}{}
	}
	return rows
}
