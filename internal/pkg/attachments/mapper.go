// Package attachments uploads claim attachments and reports them to the intake.
package attachments

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
)

// ErrNoContent is returned when an attachment carries nothing to upload
var ErrNoContent = errors.New("attachment has no content")

// Source is a raw attachment row mapped to its source type. Content fields
// are plaintext and only ever persisted encrypted.
type Source struct {
	ID           string
	SourceID     string
	ProviderCode string
	ClaimID      int64
	Type         models.AttachmentSourceType
	Path         string
	Inline       []byte
	FileName     string
	ContentType  string
	SizeBytes    *int64
	Remarks      string
}

// Map reads a raw attachment row. An inline AttachBit wins over the
// location; a location containing a path separator is a file path, any
// other location is the content itself.
func Map(providerCode string, claimID int64, row claims.Object) Source {
	s := Source{ProviderCode: providerCode, ClaimID: claimID}

	if v, ok := claims.Get(row, "AttachmentID"); ok {
		s.SourceID = strings.TrimSpace(claims.String(v))
	}
	if s.SourceID == "" {
		s.SourceID = uuid.NewString()
	}
	s.ID = models.AttachmentIdentity(providerCode, claimID, s.SourceID)

	location := field(row, "location")
	s.FileName = field(row, "FileName")
	s.ContentType = field(row, "AttachmentType")
	s.Remarks = field(row, "remarks")
	if raw := field(row, "FileSizeInByte"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.SizeBytes = &n
		}
	}

	switch bit := attachBit(row); {
	case bit != nil:
		s.Type = models.AttachmentSourceBase64InAttachBit
		s.Inline = bit
	case strings.ContainsAny(location, `/\`):
		s.Type = models.AttachmentSourceFilePath
		s.Path = location
	case location != "":
		s.Type = models.AttachmentSourceRawBytesInLocation
		s.Inline = []byte(location)
	default:
		s.Type = models.AttachmentSourceFilePath
	}
	return s
}

// attachBit returns the decoded inline content. A blob column arrives as
// bytes, a text column as base64.
func attachBit(row claims.Object) []byte {
	v, ok := claims.Get(row, "AttachBit")
	if !ok || v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok && len(b) > 0 {
		return b
	}
	raw := strings.TrimSpace(claims.String(v))
	if raw == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	return b
}

func field(row claims.Object, name string) string {
	v, ok := claims.Get(row, name)
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(claims.String(v))
}

// Content returns the bytes to upload
func (s Source) Content(readFile func(string) ([]byte, error)) ([]byte, error) {
	if s.Type != models.AttachmentSourceFilePath {
		if len(s.Inline) == 0 {
			return nil, ErrNoContent
		}
		return s.Inline, nil
	}
	if s.Path == "" {
		return nil, ErrNoContent
	}
	if readFile == nil {
		readFile = os.ReadFile
	}
	data, err := readFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return data, nil
}

// Row builds the staged attachment row with encrypted content fields
func (s Source) Row(enc security.Encryptor, batchID uint, content []byte) (*models.Attachment, error) {
	row := &models.Attachment{
		AttachmentID: s.ID,
		ProviderCode: s.ProviderCode,
		ClaimID:      s.ClaimID,
		BatchID:      &batchID,
		SourceType:   s.Type,
		FileName:     s.FileName,
		ContentType:  s.ContentType,
		SizeBytes:    s.SizeBytes,
		Remarks:      s.Remarks,
	}
	if content != nil {
		sum := sha256.Sum256(content)
		row.SHA256 = hex.EncodeToString(sum[:])
		if row.SizeBytes == nil {
			n := int64(len(content))
			row.SizeBytes = &n
		}
	}

	var err error
	switch s.Type {
	case models.AttachmentSourceFilePath:
		row.LocationPathEnc, err = security.EncryptString(enc, s.Path)
	case models.AttachmentSourceRawBytesInLocation:
		row.LocationBytesEnc, err = enc.Encrypt(s.Inline)
	case models.AttachmentSourceBase64InAttachBit:
		row.AttachBitEnc, err = enc.Encrypt(s.Inline)
	}
	if err != nil {
		return nil, fmt.Errorf("encrypt attachment %s: %w", s.ID, err)
	}
	return row, nil
}
