package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
)

// Tables names the provider tables and columns read by SQLProvider
type Tables struct {
	Header         string
	ClaimKeyColumn string
	DateColumn     string
	CompanyColumn  string
	Doctor         string
	Service        string
	Diagnosis      string
	Lab            string
	Radiology      string
	Optical        string
	Attachment     string
}

// DefaultTables returns the standard provider schema
func DefaultTables() Tables {
	return Tables{
		Header:         "DHSClaim_Header",
		ClaimKeyColumn: "ProIdClaim",
		DateColumn:     "InvoiceDate",
		CompanyColumn:  "CompanyCode",
		Doctor:         "DHS_Doctor",
		Service:        "DHSService_Details",
		Diagnosis:      "DHSDiagnosis_Details",
		Lab:            "DHSLab_Details",
		Radiology:      "DHSRadiology_Details",
		Optical:        "DHS_OpticalVitalSign",
		Attachment:     "DHS_Attachment",
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (t Tables) validate() error {
	for _, name := range []string{t.Header, t.ClaimKeyColumn, t.DateColumn, t.CompanyColumn,
		t.Doctor, t.Service, t.Diagnosis, t.Lab, t.Radiology, t.Optical, t.Attachment} {
		if !identifier.MatchString(name) {
			return fmt.Errorf("invalid provider table or column name %q", name)
		}
	}
	return nil
}

// maxInList bounds the number of claim ids bound into one IN clause
const maxInList = 500

// SQLProvider reads provider tables through gorm
type SQLProvider struct {
	db     *gorm.DB
	tables Tables
}

// NewSQLProvider creates a provider reader; names are validated as plain identifiers
func NewSQLProvider(db *gorm.DB, tables Tables) (*SQLProvider, error) {
	if db == nil {
		return nil, errors.New("provider database is nil")
	}
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &SQLProvider{db: db, tables: tables}, nil
}

func (p *SQLProvider) scope(ctx context.Context, r Range) *gorm.DB {
	t := p.tables
	return p.db.WithContext(ctx).Table(t.Header).
		Where(t.CompanyColumn+" = ?", r.CompanyCode).
		Where(t.DateColumn+" >= ? AND "+t.DateColumn+" < ?", r.Start, r.End)
}

// CountClaims counts the claims of a range
func (p *SQLProvider) CountClaims(ctx context.Context, r Range) (int64, error) {
	var n int64
	err := p.scope(ctx, r).Count(&n).Error
	return n, err
}

// ListClaimKeys pages claim ids of a range in ascending order
func (p *SQLProvider) ListClaimKeys(ctx context.Context, r Range, afterClaimID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 300
	}
	var ids []int64
	key := p.tables.ClaimKeyColumn
	err := p.scope(ctx, r).
		Where(key+" > ?", afterClaimID).
		Order(key).
		Limit(limit).
		Pluck(key, &ids).Error
	return ids, err
}

// GetClaims reads the header and detail rows of the given claims. Claims
// without a header row are omitted; the result follows the order of claimIDs.
func (p *SQLProvider) GetClaims(ctx context.Context, providerCode string, claimIDs []int64) ([]RawClaim, error) {
	if len(claimIDs) == 0 {
		return nil, nil
	}
	t := p.tables

	headers, err := p.rows(ctx, t.Header, t.ClaimKeyColumn, claimIDs)
	if err != nil {
		return nil, err
	}
	details := map[string]map[int64][]map[string]interface{}{}
	for _, table := range []string{t.Doctor, t.Service, t.Diagnosis, t.Lab, t.Radiology, t.Optical, t.Attachment} {
		rows, err := p.rows(ctx, table, "ProIdClaim", claimIDs)
		if err != nil {
			return nil, err
		}
		details[table] = rows
	}

	out := make([]RawClaim, 0, len(claimIDs))
	for _, id := range claimIDs {
		h, ok := headers[id]
		if !ok || len(h) == 0 {
			continue
		}
		doctors := details[t.Doctor][id]
		if len(doctors) > 1 {
			doctors = doctors[:1]
		}
		out = append(out, RawClaim{
			ClaimID: id,
			Parts: claims.Parts{
				Header:            h[0],
				ServiceDetails:    asArray(details[t.Service][id]),
				DiagnosisDetails:  asArray(details[t.Diagnosis][id]),
				LabDetails:        asArray(details[t.Lab][id]),
				RadiologyDetails:  asArray(details[t.Radiology][id]),
				OpticalVitalSigns: asArray(details[t.Optical][id]),
				Doctors:           asArray(doctors),
			},
			Attachments: details[t.Attachment][id],
		})
	}
	return out, nil
}

// GetAttachments reads the attachment rows of the given claims
func (p *SQLProvider) GetAttachments(ctx context.Context, providerCode string, claimIDs []int64) (map[int64][]claims.Object, error) {
	if len(claimIDs) == 0 {
		return map[int64][]claims.Object{}, nil
	}
	rows, err := p.rows(ctx, p.tables.Attachment, "ProIdClaim", claimIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]claims.Object, len(rows))
	for id, list := range rows {
		for _, row := range list {
			out[id] = append(out[id], row)
		}
	}
	return out, nil
}

func (p *SQLProvider) rows(ctx context.Context, table, keyCol string, ids []int64) (map[int64][]map[string]interface{}, error) {
	out := make(map[int64][]map[string]interface{}, len(ids))
	for start := 0; start < len(ids); start += maxInList {
		end := start + maxInList
		if end > len(ids) {
			end = len(ids)
		}
		var rows []map[string]interface{}
		if err := p.db.WithContext(ctx).Table(table).Where(keyCol+" IN ?", ids[start:end]).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
		for _, row := range rows {
			normalizeRow(row)
			id, ok := claims.AsInt64(lookupKey(row, keyCol))
			if !ok {
				continue
			}
			out[id] = append(out[id], row)
		}
	}
	return out, nil
}

func lookupKey(row map[string]interface{}, keyCol string) interface{} {
	v, _ := claims.Get(row, keyCol)
	return v
}

// normalizeRow converts driver values into JSON-friendly ones
func normalizeRow(row map[string]interface{}) {
	for k, v := range row {
		switch t := v.(type) {
		case []byte:
			row[k] = string(t)
		case time.Time:
			row[k] = t.UTC().Format(time.RFC3339)
		}
	}
}

func asArray(rows []map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	return out
}
