// Package intake talks to the remote claim intake service.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const (
	pathSendClaim        = "api/Claims/SendClaim"
	pathUploadAttachment = "api/Batch/UploadAttachment"
	pathCreateBatch      = "api/Batch/CreateBatchRequest"
	pathInsertMissing    = "api/DomainMapping/InsertMissMappingDomain"
	pathProviderMappings = "api/DomainMapping/GetProviderDomainMapping/"

	headerCorrelationID = "X-Correlation-Id"
)

// ErrNotConfigured is returned when no base URL is set
var ErrNotConfigured = errors.New("intake base url is not configured")

// APIError is a non-2xx answer of the intake
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("intake returned HTTP %d: %s", e.Status, body)
}

// Config holds connection settings for the intake service
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Gzip    bool
}

// Client is the fasthttp-backed intake client. It implements ClaimsClient,
// AttachmentClient, BatchClient and DomainMappingClient.
type Client struct {
	cfg Config
}

// New creates an intake client
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg}
}

type call struct {
	method        string
	path          string
	body          []byte
	gzip          bool
	correlationID string
}

type response struct {
	status int
	body   []byte
}

// do performs one request. The agent cannot be cancelled mid-flight, so the
// context is checked before sending and the configured timeout bounds the call.
func (c *Client) do(ctx context.Context, in call) (response, error) {
	if c.cfg.BaseURL == "" {
		return response{}, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return response{}, err
	}

	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(in.method)
	req.SetRequestURI(c.cfg.BaseURL + "/" + in.path)
	a.Timeout(timeout)

	if in.correlationID == "" {
		in.correlationID = uuid.NewString()
	}
	a.Set(headerCorrelationID, in.correlationID)
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if c.cfg.APIKey != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.cfg.APIKey)
	}

	if in.body != nil {
		a.ContentType(fiber.MIMEApplicationJSON)
		body := in.body
		if in.gzip {
			body = fasthttp.AppendGzipBytes(nil, in.body)
			a.Set(fiber.HeaderContentEncoding, "gzip")
		}
		a.Body(body)
	}

	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return response{}, fmt.Errorf("prepare %s: %w", in.path, err)
	}

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return response{}, fmt.Errorf("%s %s: %w", in.method, in.path, errors.Join(errs...))
	}
	if status < 200 || status > 299 {
		return response{status: status, body: body}, &APIError{Status: status, Body: string(body)}
	}
	return response{status: status, body: body}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, gzip bool, correlationID string) (response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return response{}, fmt.Errorf("encode %s: %w", path, err)
	}
	return c.do(ctx, call{method: fiber.MethodPost, path: path, body: data, gzip: gzip, correlationID: correlationID})
}

// envelope is the common response wrapper of the intake
type envelope struct {
	Succeeded  *bool           `json:"succeeded"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Errors     []string        `json:"errors"`
	Data       json.RawMessage `json:"data"`
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	if len(body) == 0 {
		return env, errors.New("empty response body")
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("unexpected response shape: %w", err)
	}
	return env, nil
}

func (e envelope) failed() bool {
	return e.Succeeded != nil && !*e.Succeeded
}

func (e envelope) failure(fallback string) error {
	msg := e.Message
	if msg == "" && len(e.Errors) > 0 {
		msg = strings.Join(e.Errors, "; ")
	}
	if msg == "" {
		msg = fallback
	}
	return errors.New(msg)
}
