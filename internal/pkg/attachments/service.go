package attachments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/blobstore"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/source"
)

const (
	DefaultBackoff     = 5 * time.Minute
	DefaultConcurrency = 4
	// claims asked from the source per GetAttachments call
	DefaultClaimPage = 50

	uploadShare = 70.0
)

// Config tunes the attachment pipeline
type Config struct {
	Backoff     time.Duration
	Concurrency int
	ClaimPage   int
}

// Dependencies are the collaborators of the attachment service
type Dependencies struct {
	Store     *repository.Store
	Source    source.Provider
	Uploader  blobstore.Uploader
	Notifier  intake.AttachmentClient
	Encryptor security.Encryptor
	Clock     clock.Clock
	Reporter  progress.Reporter
	// ReadFile loads file-path attachments, os.ReadFile when nil
	ReadFile func(string) ([]byte, error)
}

// Service uploads the attachments of a batch
type Service struct {
	Dependencies
	cfg Config
}

// Result summarises one attachment run
type Result struct {
	Attachments  int
	Uploaded     int
	Skipped      int
	Failed       int
	Notified     int
	NotifyFailed int
}

// NewService creates an attachment service
func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ClaimPage <= 0 {
		cfg.ClaimPage = DefaultClaimPage
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.Nop()
	}
	return &Service{Dependencies: deps, cfg: cfg}
}

// ProcessBatch uploads every pending attachment of the batch's claims, then
// patches the payloads and notifies the intake per claim. Upload and notify
// failures are recorded or logged; only store errors are returned.
func (s *Service) ProcessBatch(ctx context.Context, batchID uint) (Result, error) {
	var res Result

	batch, err := s.Store.Read(ctx).Batch.GetByID(batchID)
	if err != nil {
		return res, fmt.Errorf("load batch %d: %w", batchID, err)
	}

	sources, err := s.collect(ctx, batch)
	if err != nil {
		return res, err
	}
	res.Attachments = len(sources)
	if len(sources) == 0 {
		s.report(batch, "No attachments found", 100)
		return res, s.markDone(ctx, batch)
	}
	log.Infof("[Attachments] Batch %d: %d attachments", batch.ID, len(sources))

	uploaded, err := s.upload(ctx, batch, sources, &res)
	if err != nil {
		return res, err
	}
	if err := s.notify(ctx, batch, uploaded, &res); err != nil {
		return res, err
	}

	s.report(batch, fmt.Sprintf("Attachments done: %d uploaded, %d failed", res.Uploaded, res.Failed), 100)
	return res, s.markDone(ctx, batch)
}

// collect maps the source attachments of every claim in the batch
func (s *Service) collect(ctx context.Context, batch *models.Batch) ([]Source, error) {
	var ids []int64
	for offset := 0; ; offset += s.cfg.ClaimPage {
		rows, err := s.Store.Read(ctx).Claim.ListByBatch(batch.ID, offset, s.cfg.ClaimPage)
		if err != nil {
			return nil, fmt.Errorf("list claims: %w", err)
		}
		for _, c := range rows {
			ids = append(ids, c.ClaimID)
		}
		if len(rows) < s.cfg.ClaimPage {
			break
		}
	}

	var out []Source
	for start := 0; start < len(ids); start += s.cfg.ClaimPage {
		end := start + s.cfg.ClaimPage
		if end > len(ids) {
			end = len(ids)
		}
		byClaim, err := s.Source.GetAttachments(ctx, batch.ProviderCode, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("fetch attachments: %w", err)
		}
		for _, id := range ids[start:end] {
			for _, row := range byClaim[id] {
				out = append(out, Map(batch.ProviderCode, id, row))
			}
		}
	}
	return out, nil
}

// uploaded is one attachment stored remotely during this run
type uploaded struct {
	claimID int64
	ref     claims.AttachmentRef
}

// upload stages and uploads the sources concurrently. Attachments already
// uploaded, or failed and not yet due, are skipped.
func (s *Service) upload(ctx context.Context, batch *models.Batch, sources []Source, res *Result) (map[int64][]uploaded, error) {
	var (
		mu   sync.Mutex
		done int64
		out  = make(map[int64][]uploaded)
	)
	total := int64(len(sources))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			ref, outcome, err := s.uploadOne(gCtx, batch, src)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeUploaded:
				res.Uploaded++
				out[src.ClaimID] = append(out[src.ClaimID], uploaded{claimID: src.ClaimID, ref: ref})
			case outcomeSkipped:
				res.Skipped++
			case outcomeFailed:
				res.Failed++
			}
			done++
			s.Reporter.Report(progress.Event{
				Stage:   progress.StageAttachments,
				Message: fmt.Sprintf("Uploading attachments: %d/%d", done, total),
			}.WithBatch(batch.ID).WithPercent(uploadShare*float64(done)/float64(total)).WithCounts(done, total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeUploaded
	outcomeFailed
)

func (s *Service) uploadOne(ctx context.Context, batch *models.Batch, src Source) (claims.AttachmentRef, outcome, error) {
	var ref claims.AttachmentRef

	existing, err := s.Store.Read(ctx).Attachment.Get(src.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return ref, 0, fmt.Errorf("load attachment %s: %w", src.ID, err)
	case existing.UploadStatus == models.UploadStatusUploaded:
		return ref, outcomeSkipped, nil
	case existing.UploadStatus == models.UploadStatusFailed && existing.NextRetryAt != nil && existing.NextRetryAt.After(s.Clock.Now()):
		return ref, outcomeSkipped, nil
	}

	content, contentErr := src.Content(s.ReadFile)
	row, err := src.Row(s.Encryptor, batch.ID, content)
	if err != nil {
		return ref, 0, err
	}
	if err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Attachment.UpsertStaged(row, s.Clock.Now())
	}); err != nil {
		return ref, 0, fmt.Errorf("stage attachment %s: %w", src.ID, err)
	}

	if contentErr != nil {
		return ref, outcomeFailed, s.fail(ctx, src.ID, contentErr)
	}

	contentType := row.ContentType
	if contentType == "" {
		contentType = blobstore.ContentType(row.FileName)
	}
	key := blobstore.ObjectKey(src.ProviderCode, src.ClaimID, src.SourceID, row.FileName)
	url, size, err := s.Uploader.Upload(ctx, key, contentType, content)
	if err != nil {
		if ctx.Err() != nil {
			return ref, 0, ctx.Err()
		}
		return ref, outcomeFailed, s.fail(ctx, src.ID, err)
	}

	urlEnc, err := security.EncryptString(s.Encryptor, url)
	if err != nil {
		return ref, 0, err
	}
	if err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Attachment.MarkUploaded(src.ID, urlEnc, size, s.Clock.Now())
	}); err != nil {
		return ref, 0, fmt.Errorf("mark attachment %s uploaded: %w", src.ID, err)
	}

	ref = claims.AttachmentRef{
		AttachmentID: src.ID,
		FileName:     row.FileName,
		ContentType:  contentType,
		SizeBytes:    &size,
		OnlineURL:    url,
	}
	return ref, outcomeUploaded, nil
}

func (s *Service) fail(ctx context.Context, id string, cause error) error {
	log.Warnf("[Attachments] Upload of %s failed: %v", id, cause)
	return s.Store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Attachment.MarkFailed(id, cause.Error(), s.Clock.Now(), s.cfg.Backoff)
	})
}

// notify patches the payload of every claim with new uploads and sends the
// intake the full set of the claim's uploaded attachments
func (s *Service) notify(ctx context.Context, batch *models.Batch, byClaim map[int64][]uploaded, res *Result) error {
	ids := make([]int64, 0, len(byClaim))
	for id := range byClaim {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := models.ClaimKey{ProviderCode: batch.ProviderCode, ClaimID: id}

		refs := make([]claims.AttachmentRef, 0, len(byClaim[id]))
		for _, u := range byClaim[id] {
			refs = append(refs, u.ref)
		}
		if err := s.patchPayload(ctx, key, refs); err != nil {
			return err
		}

		req, err := s.request(ctx, key)
		if err != nil {
			return err
		}
		if err := s.Notifier.UploadAttachment(ctx, req); err != nil {
			log.Warnf("[Attachments] Notify for claim %d failed: %v", id, err)
			res.NotifyFailed++
		} else {
			res.Notified++
		}

		processed := int64(i + 1)
		s.Reporter.Report(progress.Event{
			Stage:   progress.StageAttachments,
			Message: fmt.Sprintf("Notifying intake: %d/%d claims", processed, len(ids)),
		}.WithBatch(batch.ID).WithPercent(uploadShare+(100-uploadShare)*float64(processed)/float64(len(ids))).WithCounts(processed, int64(len(ids))))
	}
	return nil
}

// patchPayload merges refs into the stored bundle and rehashes it. A claim
// without a payload is left alone.
func (s *Service) patchPayload(ctx context.Context, key models.ClaimKey, refs []claims.AttachmentRef) error {
	return s.Store.InTx(ctx, func(r *repository.Repositories) error {
		p, err := r.Payload.Get(key)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := s.Encryptor.Decrypt(p.PayloadEnc)
		if err != nil {
			return fmt.Errorf("decrypt payload of claim %d: %w", key.ClaimID, err)
		}
		b, err := claims.Decode(data)
		if err != nil {
			log.Errorf("[Attachments] Payload of claim %d is unreadable: %v", key.ClaimID, err)
			return nil
		}
		claims.MergeAttachments(b, refs)

		out, err := b.Marshal()
		if err != nil {
			return err
		}
		enc, err := s.Encryptor.Encrypt(out)
		if err != nil {
			return err
		}
		p.PayloadEnc = enc
		p.PayloadHash = claims.Hash(out)
		return r.Payload.Upsert(p, s.Clock.Now())
	})
}

func (s *Service) request(ctx context.Context, key models.ClaimKey) (intake.UploadAttachmentRequest, error) {
	req := intake.UploadAttachmentRequest{ProIdClaim: key.ClaimID}
	rows, err := s.Store.Read(ctx).Attachment.ListUploadedByClaim(key)
	if err != nil {
		return req, fmt.Errorf("list uploaded attachments: %w", err)
	}
	for _, a := range rows {
		url, err := security.DecryptString(s.Encryptor, a.OnlineURLEnc)
		if err != nil {
			return req, fmt.Errorf("decrypt url of %s: %w", a.AttachmentID, err)
		}
		location, err := security.DecryptString(s.Encryptor, a.LocationPathEnc)
		if err != nil {
			return req, fmt.Errorf("decrypt location of %s: %w", a.AttachmentID, err)
		}
		dto := intake.AttachmentDTO{
			AttachmentType: a.ContentType,
			OnlineURL:      url,
			Remarks:        a.Remarks,
			Location:       location,
		}
		if dto.AttachmentType == "" {
			dto.AttachmentType = blobstore.ContentType(a.FileName)
		}
		if a.SizeBytes != nil {
			dto.FileSizeInByte = *a.SizeBytes
		}
		req.Attachments = append(req.Attachments, dto)
	}
	return req, nil
}

func (s *Service) markDone(ctx context.Context, batch *models.Batch) error {
	return s.Store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Batch.MarkAttachmentsDone(batch.ID, s.Clock.Now())
	})
}

func (s *Service) report(batch *models.Batch, msg string, percent float64) {
	s.Reporter.Report(progress.Event{Stage: progress.StageAttachments, Message: msg}.WithBatch(batch.ID).WithPercent(percent))
}
