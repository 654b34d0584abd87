package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ClaimsClient submits claim packets
type ClaimsClient interface {
	SendClaim(ctx context.Context, packet json.RawMessage, correlationID string) (*SendClaimResult, error)
}

// SendClaimResult lists the claim ids the intake accepted and rejected
type SendClaimResult struct {
	HTTPStatus int
	SuccessIDs []int64
	FailIDs    []int64
}

// ErrEmptyPacket is returned for an empty or non-array packet
var ErrEmptyPacket = errors.New("send claim packet must be a non-empty JSON array")

type sendClaimData struct {
	SuccessClaimsProIdClaim idList `json:"successClaimsProidClaim"`
	FailClaimsProIdClaim    idList `json:"failClaimsProidClaim"`
}

// idList accepts numbers and numeric strings
type idList []int64

func (l *idList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		s := string(bytes.Trim(item, `"`))
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	*l = out
	return nil
}

// SendClaim posts a gzip-compressed JSON array of claim bundles. A 2xx
// answer with succeeded=false is an error.
func (c *Client) SendClaim(ctx context.Context, packet json.RawMessage, correlationID string) (*SendClaimResult, error) {
	trimmed := bytes.TrimSpace(packet)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return nil, ErrEmptyPacket
	}

	resp, err := c.do(ctx, call{
		method:        fiber.MethodPost,
		path:          pathSendClaim,
		body:          trimmed,
		gzip:          c.cfg.Gzip,
		correlationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(resp.body)
	if err != nil {
		return nil, err
	}
	if env.failed() {
		return nil, env.failure("send claim returned succeeded=false")
	}

	var data sendClaimData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, err
		}
	}
	return &SendClaimResult{
		HTTPStatus: resp.status,
		SuccessIDs: data.SuccessClaimsProIdClaim,
		FailIDs:    data.FailClaimsProIdClaim,
	}, nil
}
