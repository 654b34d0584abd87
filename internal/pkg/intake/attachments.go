package intake

import (
	"context"
)

// AttachmentClient notifies the intake about uploaded attachments
type AttachmentClient interface {
	UploadAttachment(ctx context.Context, req UploadAttachmentRequest) error
}

// UploadAttachmentRequest carries every uploaded attachment of one claim
type UploadAttachmentRequest struct {
	ProIdClaim  int64           `json:"proIdClaim"`
	Attachments []AttachmentDTO `json:"attachments"`
}

// AttachmentDTO describes one uploaded attachment
type AttachmentDTO struct {
	AttachmentType string `json:"attachmentType"`
	FileSizeInByte int64  `json:"fileSizeInByte"`
	OnlineURL      string `json:"onlineURL"`
	Remarks        string `json:"remarks,omitempty"`
	Location       string `json:"location,omitempty"`
}

// UploadAttachment posts the attachment metadata of a claim
func (c *Client) UploadAttachment(ctx context.Context, req UploadAttachmentRequest) error {
	_, err := c.postJSON(ctx, pathUploadAttachment, req, false, "")
	return err
}
