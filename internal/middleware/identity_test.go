package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quizthread/internal/identity"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIdentity(t *testing.T) {
	secret := "test-secret-key-12345678901234567890123456789012"
	verifier := identity.NewTokenVerifier(secret)
	app := fiber.New()
	app.Use(ResolveIdentity(verifier, identity.NewGuestGenerator(7)))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(IdentityFrom(c))
	})

	valid, err := verifier.Issue("u1", "Ana", time.Hour)
	require.NoError(t, err)
	expired, err := verifier.Issue("u1", "Ana", -time.Hour)
	require.NoError(t, err)
	foreign, err := identity.NewTokenVerifier("another-secret-key-123456789012345678901234").Issue("u1", "Ana", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		authHeader     string
		guestName      string
		query          string
		expectedStatus int
		expectedID     string
		expectedName   string
		expectedGuest  bool
	}{
		{
			name:           "Valid Token",
			authHeader:     "Bearer " + valid,
			expectedStatus: http.StatusOK,
			expectedID:     "u1",
			expectedName:   "Ana",
		},
		{
			name:           "Valid Token via Query Param",
			query:          "?token=" + valid,
			expectedStatus: http.StatusOK,
			expectedID:     "u1",
			expectedName:   "Ana",
		},
		{
			name:           "Named Guest",
			guestName:      "CleverFox12",
			expectedStatus: http.StatusOK,
			expectedName:   "CleverFox12",
			expectedGuest:  true,
		},
		{
			name:           "Anonymous Guest",
			expectedStatus: http.StatusOK,
			expectedGuest:  true,
		},
		{
			name:           "Invalid Format",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Malformed Token",
			authHeader:     "Bearer malformed.token.here",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired Token",
			authHeader:     "Bearer " + expired,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Secret",
			authHeader:     "Bearer " + foreign,
			guestName:      "Sneaky",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami"+tt.query, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.guestName != "" {
				req.Header.Set(GuestNameHeader, tt.guestName)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			if resp.StatusCode != http.StatusOK {
				return
			}

			var who identity.Identity
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&who))
			assert.Equal(t, tt.expectedGuest, who.Guest)
			if tt.expectedID != "" {
				assert.Equal(t, tt.expectedID, who.ID)
			} else {
				assert.True(t, strings.HasPrefix(who.ID, "guest_"), who.ID)
			}
			if tt.expectedName != "" {
				assert.Equal(t, tt.expectedName, who.Name)
			} else {
				assert.NotEmpty(t, who.Name)
			}
		})
	}
}

func TestIdentityFrom_WithoutMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		who := IdentityFrom(c)
		assert.False(t, who.IsAuthenticated())
		return c.SendStatus(fiber.StatusNoContent)
	})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
