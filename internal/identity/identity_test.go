package identity

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var guestName = regexp.MustCompile(`^[A-Z][A-Za-z]*[A-Z][A-Za-z]*[0-9]{1,3}$`)

func TestGuestGenerator_NameFormat(t *testing.T) {
	t.Parallel()
	g := NewGuestGenerator(42)
	for i := 0; i < 50; i++ {
		name := g.Name()
		assert.Regexp(t, guestName, name)
	}
}

func TestGuestGenerator_Guest(t *testing.T) {
	t.Parallel()
	g := NewGuestGenerator(0)
	a, b := g.Guest(), g.Guest()

	assert.True(t, a.Guest)
	assert.False(t, a.IsAuthenticated())
	assert.Nil(t, a.AuthorID())
	assert.True(t, strings.HasPrefix(a.ID, guestIDPrefix))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestGuestGenerator_GuestFromName(t *testing.T) {
	t.Parallel()
	g := NewGuestGenerator(7)
	assert.Equal(t, "QuizFan", g.GuestFromName("  QuizFan ").Name)
	assert.Regexp(t, guestName, g.GuestFromName("   ").Name)
	assert.Regexp(t, guestName, g.GuestFromName(strings.Repeat("x", 65)).Name)
}

func TestSession_StableGuest(t *testing.T) {
	t.Parallel()
	g := NewGuestGenerator(1)
	s := g.NewSession()
	assert.Equal(t, s.Guest(), s.Guest())
	assert.NotEqual(t, s.Guest().ID, g.NewSession().Guest().ID)
}

func TestAuthenticated(t *testing.T) {
	t.Parallel()
	id := Authenticated("u1", "Ana")
	assert.True(t, id.IsAuthenticated())
	require.NotNil(t, id.AuthorID())
	assert.Equal(t, "u1", *id.AuthorID())
	assert.False(t, Identity{}.IsAuthenticated())
}

func TestTitleWord(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Brave", titleWord("brave"))
	assert.Equal(t, "ALot", titleWord("a lot"))
	assert.Equal(t, "", titleWord("123"))
}

func TestTokenVerifier(t *testing.T) {
	t.Parallel()
	v := NewTokenVerifier("test-secret-at-least-32-characters!!")

	token, err := v.Issue("u1", "Ana", time.Hour)
	require.NoError(t, err)
	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Authenticated("u1", "Ana"), id)

	expired, err := v.Issue("u1", "Ana", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenVerifier("another-secret-another-secret-xx").Issue("u1", "Ana", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "Ana"})
	signed, err := noSub.SignedString([]byte("test-secret-at-least-32-characters!!"))
	require.NoError(t, err)
	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	nameless, err := v.Issue("u2", "", time.Hour)
	require.NoError(t, err)
	id, err = v.Verify(nameless)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.Name)
}
