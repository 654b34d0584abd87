package intake

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startIntake serves app on a random local port and returns its base URL
func startIntake(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String()
}

func newApp() *fiber.App {
	return fiber.New(fiber.Config{DisableStartupMessage: true})
}

func TestSendClaimParsesSuccessAndFailLists(t *testing.T) {
	app := newApp()
	var gotAuth, gotCorrelation, gotEncoding string
	var gotBody []byte
	app.Post("/api/Claims/SendClaim", func(c *fiber.Ctx) error {
		gotAuth = c.Get(fiber.HeaderAuthorization)
		gotCorrelation = c.Get(headerCorrelationID)
		gotEncoding = c.Get(fiber.HeaderContentEncoding)
		body, err := c.Request().BodyGunzip()
		if err != nil {
			return err
		}
		gotBody = append([]byte(nil), body...)
		return c.JSON(fiber.Map{
			"succeeded": true,
			"data": fiber.Map{
				"successClaimsProidClaim": []interface{}{1, "2"},
				"failClaimsProidClaim":    []interface{}{3},
			},
		})
	})

	c := New(Config{BaseURL: startIntake(t, app), APIKey: "k1", Timeout: 5 * time.Second, Gzip: true})
	res, err := c.SendClaim(context.Background(), json.RawMessage(`[{"claimHeader":{"proIdClaim":1}}]`), "corr-1")
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, res.HTTPStatus)
	assert.Equal(t, []int64{1, 2}, res.SuccessIDs)
	assert.Equal(t, []int64{3}, res.FailIDs)
	assert.Equal(t, "Bearer k1", gotAuth)
	assert.Equal(t, "corr-1", gotCorrelation)
	assert.Equal(t, "gzip", gotEncoding)
	assert.JSONEq(t, `[{"claimHeader":{"proIdClaim":1}}]`, string(gotBody))
}

func TestSendClaimFailures(t *testing.T) {
	app := newApp()
	app.Post("/api/Claims/SendClaim", func(c *fiber.Ctx) error {
		switch c.Get(headerCorrelationID) {
		case "http500":
			return c.Status(fiber.StatusInternalServerError).SendString("boom")
		case "refused":
			return c.JSON(fiber.Map{"succeeded": false, "message": "quota exceeded"})
		default:
			return c.SendString("not json")
		}
	})
	c := New(Config{BaseURL: startIntake(t, app), Timeout: 5 * time.Second})
	packet := json.RawMessage(`[{}]`)

	_, err := c.SendClaim(context.Background(), packet, "http500")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, fiber.StatusInternalServerError, apiErr.Status)

	_, err = c.SendClaim(context.Background(), packet, "refused")
	assert.EqualError(t, err, "quota exceeded")

	_, err = c.SendClaim(context.Background(), packet, "garbage")
	assert.Error(t, err)

	_, err = c.SendClaim(context.Background(), json.RawMessage(`{}`), "x")
	assert.ErrorIs(t, err, ErrEmptyPacket)
}

func TestClientRequiresBaseURLAndLiveContext(t *testing.T) {
	_, err := New(Config{}).SendClaim(context.Background(), json.RawMessage(`[]`), "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(Config{BaseURL: "http://127.0.0.1:1"}).SendClaim(ctx, json.RawMessage(`[]`), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateBatch(t *testing.T) {
	app := newApp()
	var got createBatchEnvelope
	app.Post("/api/Batch/CreateBatchRequest", func(c *fiber.Ctx) error {
		if err := json.Unmarshal(c.Body(), &got); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"succeeded": true, "statusCode": 200, "batchId": 778})
	})
	c := New(Config{BaseURL: startIntake(t, app), Timeout: 5 * time.Second})

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	id, err := c.CreateBatch(context.Background(), CreateBatchItem{
		CompanyCode:     "C01",
		BatchStartDate:  start,
		BatchEndDate:    start.AddDate(0, 1, 0),
		TotalClaims:     12,
		ProviderDhsCode: "PRV1",
	})
	require.NoError(t, err)
	assert.Equal(t, "778", id)
	require.Len(t, got.BatchRequests, 1)
	assert.Equal(t, int64(12), got.BatchRequests[0].TotalClaims)

	_, err = c.CreateBatch(context.Background(), CreateBatchItem{ProviderDhsCode: "PRV1"})
	assert.Error(t, err)
}

func TestDomainMappingCalls(t *testing.T) {
	app := newApp()
	var posted InsertMissingRequest
	app.Post("/api/DomainMapping/InsertMissMappingDomain", func(c *fiber.Ctx) error {
		if err := json.Unmarshal(c.Body(), &posted); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"succeeded": true})
	})
	app.Get("/api/DomainMapping/GetProviderDomainMapping/:provider", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"succeeded": true,
			"data": fiber.Map{
				"domainMappings": []fiber.Map{{
					"domTable_ID": 1, "providerDomainValue": "M", "dhsDomainValue": 7,
					"codeValue": "male", "displayValue": "Male", "provider": c.Params("provider"),
				}},
				"missingDomainMappings": []fiber.Map{{"providerCodeValue": "X", "domainTableId": 2}},
			},
		})
	})
	c := New(Config{BaseURL: startIntake(t, app), Timeout: 5 * time.Second})

	err := c.InsertMissingMappings(context.Background(), InsertMissingRequest{
		ProviderDhsCode: "PRV1",
		MismappedItems:  []MismappedItem{{ProviderCodeValue: "F", ProviderNameValue: "F", DomainTableID: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "PRV1", posted.ProviderDhsCode)
	require.Len(t, posted.MismappedItems, 1)

	got, err := c.GetProviderMappings(context.Background(), "PRV1")
	require.NoError(t, err)
	require.Len(t, got.DomainMappings, 1)
	assert.Equal(t, json.Number("7"), got.DomainMappings[0].DhsDomainValue)
	assert.Equal(t, "M", got.DomainMappings[0].ProviderDomainValue)
	require.Len(t, got.MissingDomainMappings, 1)
	assert.Equal(t, 2, got.MissingDomainMappings[0].DomainTableID)
}

func TestUploadAttachment(t *testing.T) {
	app := newApp()
	var got UploadAttachmentRequest
	app.Post("/api/Batch/UploadAttachment", func(c *fiber.Ctx) error {
		if err := json.Unmarshal(c.Body(), &got); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusOK)
	})
	c := New(Config{BaseURL: startIntake(t, app) + "/", Timeout: 5 * time.Second})

	err := c.UploadAttachment(context.Background(), UploadAttachmentRequest{
		ProIdClaim:  9,
		Attachments: []AttachmentDTO{{AttachmentType: "application/pdf", FileSizeInByte: 3, OnlineURL: "u"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ProIdClaim)
	assert.Equal(t, "u", got.Attachments[0].OnlineURL)
}
