package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/testutil"
)

const provider = "PRV1"

func sampleBundle() claims.Bundle {
	return claims.Bundle{
		claims.SectionHeader: map[string]interface{}{
			"proIdClaim":          int64(1),
			"PatientGender":       " M ",
			"claimType":           "OP",
			"investigationResult": "POS",
			"visitType":           "",
		},
		claims.SectionServiceDetails: []interface{}{
			map[string]interface{}{"serviceType": "lab"},
			map[string]interface{}{"serviceType": "LAB"},
		},
		claims.SectionDiagnosisDetails: []interface{}{
			map[string]interface{}{"diagnosisTypeID": json.Number("2")},
		},
		claims.SectionDoctors: []interface{}{
			map[string]interface{}{"doctorGender": "f", "religion_Code": "ISL"},
		},
	}
}

func approved() []models.ApprovedDomainMapping {
	return []models.ApprovedDomainMapping{
		{ProviderCode: provider, DomainTableID: DomainGender, SourceValue: "m", TargetValue: "1", CodeValue: "male", DisplayValue: "Male"},
		{ProviderCode: provider, DomainTableID: DomainGender, SourceValue: "F", TargetValue: "2"},
		{ProviderCode: provider, DomainTableID: DomainInvestigationResult, SourceValue: "pos", TargetValue: "14"},
		{ProviderCode: provider, DomainTableID: DomainServiceType, SourceValue: "Lab", TargetValue: "5", CodeValue: "LB"},
		{ProviderCode: provider, DomainTableID: DomainDiagnosisType, SourceValue: "2", TargetValue: "not-a-number"},
	}
}

func TestLookupNormalisesValues(t *testing.T) {
	l := NewLookup(approved())
	m, ok := l.Find(DomainGender, "  M")
	require.True(t, ok)
	assert.Equal(t, "1", m.TargetValue)

	_, ok = l.Find(DomainCountry, "m")
	assert.False(t, ok)
	_, ok = l.Find(DomainGender, "   ")
	assert.False(t, ok)

	var empty *Lookup
	assert.Equal(t, 0, empty.Len())
}

func TestEnrichReplacesMappedFields(t *testing.T) {
	b := sampleBundle()
	n := NewEnricher(DefaultFieldTables()).Enrich(b, NewLookup(approved()))
	assert.Equal(t, 5, n)

	h := b.Header()
	assert.Equal(t, map[string]interface{}{
		"id": "1", "code": "male", "name": "Male", "ksaID": nil, "ksaCode": nil, "ksaName": nil,
	}, h["fK_GenderId"])
	assert.Equal(t, " M ", h["PatientGender"], "source field is kept")
	assert.Equal(t, int64(14), h["fK_InvestigationResult_ID"])
	assert.NotContains(t, h, "fK_ClaimType_ID", "unmapped value is left alone")

	services := b.Section(claims.SectionServiceDetails)
	for _, row := range services {
		ct := row["fK_ServiceType_ID"].(map[string]interface{})
		assert.Equal(t, "5", ct["id"])
		assert.Equal(t, "LB", ct["code"])
		assert.Equal(t, "Lab", ct["name"])
	}

	// integer target that does not parse is skipped
	assert.NotContains(t, b.Section(claims.SectionDiagnosisDetails)[0], "fK_DiagnosisType_ID")

	doctor := b.Section(claims.SectionDoctors)[0]
	assert.Equal(t, "2", doctor["fK_Gender"].(map[string]interface{})["id"])
	assert.Equal(t, "F", doctor["fK_Gender"].(map[string]interface{})["name"])
}

func TestEnrichWithEmptyLookupIsNoop(t *testing.T) {
	b := sampleBundle()
	before, err := b.Marshal()
	require.NoError(t, err)

	assert.Equal(t, 0, NewEnricher(DefaultFieldTables()).Enrich(b, NewLookup(nil)))
	after, err := b.Marshal()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestScanAndMissing(t *testing.T) {
	values := NewScanner(DefaultScanDomains()).Scan(sampleBundle())

	byDomain := map[string]string{}
	for _, v := range values {
		byDomain[v.DomainName] = v.Value
	}
	assert.Equal(t, "M", byDomain["PatientGender"])
	assert.Equal(t, "OP", byDomain["ClaimType"])
	assert.Equal(t, "lab", byDomain["ServiceType"])
	assert.Equal(t, "2", byDomain["DiagnosisType"])
	assert.Equal(t, "ISL", byDomain["DoctorReligion"])
	assert.NotContains(t, byDomain, "VisitType")

	serviceTypes := 0
	for _, v := range values {
		if v.DomainTableID == DomainServiceType {
			serviceTypes++
		}
	}
	assert.Equal(t, 1, serviceTypes, "values are deduplicated case-insensitively")

	missing := Missing(provider, values, NewLookup(approved()))
	names := map[string]bool{}
	for _, m := range missing {
		names[m.DomainTableName] = true
		assert.Equal(t, models.DiscoverySourceScannedLocally, m.DiscoverySource)
	}
	assert.True(t, names["ClaimType"])
	assert.True(t, names["DoctorReligion"])
	assert.False(t, names["PatientGender"])
	assert.False(t, names["ServiceType"])
}

type fakeMappingClient struct {
	posted   []intake.InsertMissingRequest
	failPost map[int]error
	data     *intake.ProviderMappings
	getErr   error
}

func (f *fakeMappingClient) InsertMissingMappings(_ context.Context, req intake.InsertMissingRequest) error {
	f.posted = append(f.posted, req)
	return f.failPost[len(f.posted)]
}

func (f *fakeMappingClient) GetProviderMappings(context.Context, string) (*intake.ProviderMappings, error) {
	return f.data, f.getErr
}

func newService(t *testing.T, client *fakeMappingClient, chunk int) (*Service, *repository.Store) {
	t.Helper()
	store := repository.NewStore(testutil.OpenDB(t))
	clk := clock.NewManual(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	return NewService(store, client, clk, ServiceConfig{ProviderCode: provider, PostChunk: chunk}), store
}

func seedMissing(t *testing.T, store *repository.Store, values ...string) {
	t.Helper()
	var rows []models.MissingDomainMapping
	for _, v := range values {
		rows = append(rows, models.MissingDomainMapping{
			ProviderCode: provider, DomainTableID: DomainClaimType, DomainTableName: "ClaimType",
			SourceValue: v, DiscoverySource: models.DiscoverySourceScannedLocally,
		})
	}
	require.NoError(t, store.InTx(context.Background(), func(r *repository.Repositories) error {
		_, err := r.DomainMapping.UpsertMissing(rows, time.Now().UTC())
		return err
	}))
}

func TestPostMissingChunksAndRecordsOutcome(t *testing.T) {
	client := &fakeMappingClient{failPost: map[int]error{2: errors.New("HTTP 502")}}
	svc, store := newService(t, client, 2)
	seedMissing(t, store, "A", "B", "C", "D", "E")

	posted, err := svc.PostMissing(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, posted)
	require.Len(t, client.posted, 3)
	assert.Len(t, client.posted[0].MismappedItems, 2)
	assert.Len(t, client.posted[2].MismappedItems, 1)

	failed := models.MappingStatusPostFailed
	rows, err := store.Read(context.Background()).DomainMapping.ListMissing(provider, &failed)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "HTTP 502", rows[0].LastError)
	assert.NotNil(t, rows[0].LastPostAttemptAt)

	// failed rows are retried, posted rows are not
	client.failPost = nil
	posted, err = svc.PostMissing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, posted)

	posted, err = svc.PostMissing(context.Background())
	require.NoError(t, err)
	assert.Zero(t, posted)
}

func TestRefreshApproved(t *testing.T) {
	client := &fakeMappingClient{data: &intake.ProviderMappings{
		DomainMappings: []intake.ApprovedMapping{
			{DomTableID: DomainClaimType, ProviderDomainValue: "A", DhsDomainValue: "11", CodeValue: "OPD"},
			{DomTableID: DomainClaimType, ProviderDomainValue: "", DhsDomainValue: "12"},
		},
		MissingDomainMappings: []intake.MissingMapping{
			{ProviderCodeValue: "Z", DomainTableID: DomainVisitType, DomainTableName: "VisitType"},
			{ProviderCodeValue: " ", DomainTableID: DomainVisitType},
		},
	}}
	svc, store := newService(t, client, 0)
	seedMissing(t, store, "A", "B")

	n, missing, err := svc.RefreshApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), missing)

	lookup, err := svc.LoadLookup(context.Background())
	require.NoError(t, err)
	m, ok := lookup.Find(DomainClaimType, "a")
	require.True(t, ok)
	assert.Equal(t, "11", m.TargetValue)

	rows, err := store.Read(context.Background()).DomainMapping.ListMissing(provider, nil)
	require.NoError(t, err)
	status := map[string]models.MappingStatus{}
	source := map[string]models.DiscoverySource{}
	for _, r := range rows {
		status[r.SourceValue] = r.Status
		source[r.SourceValue] = r.DiscoverySource
	}
	assert.Equal(t, models.MappingStatusApproved, status["A"])
	assert.Equal(t, models.MappingStatusMissing, status["B"])
	assert.Equal(t, models.DiscoverySourceFromAPI, source["Z"])
}

func TestRefreshApprovedPropagatesClientError(t *testing.T) {
	svc, _ := newService(t, &fakeMappingClient{getErr: errors.New("down")}, 0)
	_, _, err := svc.RefreshApproved(context.Background())
	assert.ErrorContains(t, err, "down")
}
