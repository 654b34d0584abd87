package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

func TestAttachmentLifecycle(t *testing.T) {
	_, db := newTestStore(t)
	b := seedBatch(t, db, "C1", "202403")
	repo := NewAttachmentRepository(db)

	a := &models.Attachment{
		AttachmentID: models.AttachmentIdentity(testProvider, 7, "a1"),
		ProviderCode: testProvider,
		ClaimID:      7,
		BatchID:      &b.ID,
		SourceType:   models.AttachmentSourceFilePath,
		FileName:     "scan.pdf",
	}
	require.NoError(t, repo.UpsertStaged(a, baseTime))

	got, err := repo.Get(a.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusStaged, got.UploadStatus)

	require.NoError(t, repo.MarkFailed(a.AttachmentID, "timeout", baseTime, 5*time.Minute))
	ids, err := repo.BatchIDsWithDueFailures(testProvider, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = repo.BatchIDsWithDueFailures(testProvider, baseTime.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID}, ids)

	require.NoError(t, repo.MarkUploaded(a.AttachmentID, []byte("enc-url"), 1234, baseTime))
	got, err = repo.Get(a.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusUploaded, got.UploadStatus)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.SizeBytes)
	assert.Equal(t, int64(1234), *got.SizeBytes)
	assert.Nil(t, got.NextRetryAt)

	// restaging keeps an uploaded attachment uploaded
	again := *a
	require.NoError(t, repo.UpsertStaged(&again, baseTime.Add(time.Hour)))
	got, err = repo.Get(a.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusUploaded, got.UploadStatus)
	assert.Equal(t, []byte("enc-url"), got.OnlineURLEnc)

	uploaded, err := repo.ListUploadedByClaim(models.ClaimKey{ProviderCode: testProvider, ClaimID: 7})
	require.NoError(t, err)
	assert.Len(t, uploaded, 1)

	counts, err := repo.CountByStatus(b.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.StatusCount{{Status: string(models.UploadStatusUploaded), Count: 1}}, counts)
}

func TestClaimPayloadUpsertVersioning(t *testing.T) {
	_, db := newTestStore(t)
	b := seedBatch(t, db, "C1", "202403")
	seedClaims(t, db, b.ID, 1, 2, 3)
	repo := NewClaimPayloadRepository(db)

	put := func(id int64, hash string) {
		require.NoError(t, repo.Upsert(&models.ClaimPayload{
			ProviderCode: testProvider, ClaimID: id, PayloadEnc: []byte(hash), PayloadHash: hash,
		}, baseTime))
	}
	put(1, "h1")
	put(1, "h1")
	put(2, "h2")
	put(2, "h2b")

	p1, err := repo.Get(models.ClaimKey{ProviderCode: testProvider, ClaimID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, p1.PayloadVersion)

	p2, err := repo.Get(models.ClaimKey{ProviderCode: testProvider, ClaimID: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, p2.PayloadVersion)
	assert.Equal(t, "h2b", p2.PayloadHash)

	_, err = repo.Get(models.ClaimKey{ProviderCode: testProvider, ClaimID: 3})
	assert.ErrorIs(t, err, ErrNotFound)

	many, err := repo.GetMany([]models.ClaimKey{
		{ProviderCode: testProvider, ClaimID: 2},
		{ProviderCode: testProvider, ClaimID: 3},
		{ProviderCode: testProvider, ClaimID: 1},
	})
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, int64(1), many[0].ClaimID)

	page, err := repo.ListByBatch(b.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].ClaimID)
}
