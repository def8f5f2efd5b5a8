package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizthread/internal/identity"
	"quizthread/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxHandler_AddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&ctxHandler{slog.NewJSONHandler(&buf, nil)})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, IdentityKey, identity.Authenticated("u1", "Ana"))
	logger.With("component", "test").InfoContext(ctx, "hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "u1", entry["identity"])
	assert.Equal(t, false, entry["guest"])
	assert.Equal(t, "test", entry["component"])
}

func TestContextMiddleware_PropagatesRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(ContextMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		rid, _ := ctx.Value(RequestIDKey).(string)
		return c.JSON(fiber.Map{
			"request_id":     rid,
			"correlation_id": observability.ExtractCorrelationID(ctx),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "abc-123", body["request_id"])
	assert.Equal(t, "abc-123", body["correlation_id"])
}

func TestStructuredLogger_PassesErrorsThrough(t *testing.T) {
	app := fiber.New()
	app.Use(StructuredLogger())
	app.Get("/fail", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "nope")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)
}
