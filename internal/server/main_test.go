package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quizthread/internal/config"
	"quizthread/internal/identity"
	"quizthread/internal/middleware"
	"quizthread/internal/service"
	"quizthread/internal/transport/memory"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

type testServer struct {
	server *Server
	app    *fiber.App
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Env:             "test",
		Port:            "0",
		Transport:       config.TransportMemory,
		JWTSecret:       testSecret,
		FallbackTimeout: time.Second,
		FetchTimeout:    time.Second,
	}
	srv := NewServer(cfg, service.NewCommentService(store), nil)
	return &testServer{server: srv, app: srv.App(), store: store}
}

func bearer(t *testing.T, id, name string) string {
	t.Helper()
	token, err := identity.NewTokenVerifier(testSecret).Issue(id, name, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

// do sends a JSON request; auth is a full Authorization value or a guest name.
func (ts *testServer) do(t *testing.T, method, path, auth string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case strings.HasPrefix(auth, "Bearer "):
		req.Header.Set("Authorization", auth)
	case auth != "":
		req.Header.Set(middleware.GuestNameHeader, auth)
	}

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (ts *testServer) doRaw(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}
