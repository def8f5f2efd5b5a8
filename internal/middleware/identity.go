// Package middleware provides identity resolution, logging, tracing and
// metrics middleware for the HTTP adapter.
package middleware

import (
	"context"
	"strings"

	"quizthread/internal/identity"
	"quizthread/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	// GuestNameHeader lets a guest keep the display name its client generated.
	GuestNameHeader = "X-Guest-Name"

	identityLocal = "identity"
)

// ResolveIdentity attaches the caller's identity to every request. A bearer
// token must verify; without one the caller is a guest named by
// X-Guest-Name, or by a generated name when the header is absent.
// WebSocket upgrades may pass the token as the "token" query parameter.
func ResolveIdentity(verifier *identity.TokenVerifier, guests *identity.GuestGenerator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := ""
		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid authorization header format"))
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
		}

		var who identity.Identity
		if tokenString != "" {
			id, err := verifier.Verify(tokenString)
			if err != nil {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired token"))
			}
			who = id
		} else {
			who = guests.GuestFromName(c.Get(GuestNameHeader))
		}

		c.Locals(identityLocal, who)
		c.SetUserContext(context.WithValue(c.UserContext(), IdentityKey, who))
		return c.Next()
	}
}

// IdentityFrom returns the identity ResolveIdentity stored on c. Requests
// that bypassed the middleware are anonymous guests.
func IdentityFrom(c *fiber.Ctx) identity.Identity {
	if who, ok := c.Locals(identityLocal).(identity.Identity); ok {
		return who
	}
	return identity.Identity{Guest: true}
}
