// Package identity supplies the author identity attached to every comment
// command: authenticated users from verified tokens, and per-session guests.
package identity

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/brianvoe/gofakeit/v6"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const guestIDPrefix = "guest_"

// Identity is the caller of a command. Guests carry a display name and an
// ephemeral id that is never stored as an author.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Guest bool   `json:"guest"`
}

// Authenticated builds an identity vouched for by the identity provider.
func Authenticated(id, name string) Identity {
	return Identity{ID: id, Name: name}
}

// IsAuthenticated reports whether the identity has a stable author id.
func (i Identity) IsAuthenticated() bool {
	return !i.Guest && i.ID != ""
}

// AuthorID returns the id stored on comments, nil for guests.
func (i Identity) AuthorID() *string {
	if !i.IsAuthenticated() {
		return nil
	}
	id := i.ID
	return &id
}

// GuestGenerator creates guest identities named <Adjective><Noun><Number>.
type GuestGenerator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

// NewGuestGenerator returns a generator; seed 0 picks a random seed.
func NewGuestGenerator(seed int64) *GuestGenerator {
	return &GuestGenerator{faker: gofakeit.New(seed)}
}

// Guest returns a fresh guest identity.
func (g *GuestGenerator) Guest() Identity {
	id, err := gonanoid.New(16)
	if err != nil {
		// crypto/rand failure; fall back to the faker so a guest can still post.
		id = g.word(func(f *gofakeit.Faker) string { return f.LetterN(16) })
	}
	return Identity{ID: guestIDPrefix + id, Name: g.Name(), Guest: true}
}

// Name returns a display name such as "BraveOtter42".
func (g *GuestGenerator) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	adjective := titleWord(g.faker.Adjective())
	noun := titleWord(g.faker.Noun())
	if adjective == "" {
		adjective = "Curious"
	}
	if noun == "" {
		noun = "Learner"
	}
	return fmt.Sprintf("%s%s%d", adjective, noun, g.faker.Number(1, 999))
}

// GuestFromName keeps a client-supplied guest name when it is usable.
func (g *GuestGenerator) GuestFromName(name string) Identity {
	guest := g.Guest()
	if name = strings.TrimSpace(name); name != "" && len([]rune(name)) <= 64 {
		guest.Name = name
	}
	return guest
}

// NewSession starts a session whose guest identity is generated once.
func (g *GuestGenerator) NewSession() *Session {
	return &Session{gen: g}
}

func (g *GuestGenerator) word(fn func(*gofakeit.Faker) string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.faker)
}

// Session holds one guest identity for the lifetime of an app session.
type Session struct {
	gen   *GuestGenerator
	once  sync.Once
	guest Identity
}

// Guest returns the session's guest identity, creating it on first use.
func (s *Session) Guest() Identity {
	s.once.Do(func() { s.guest = s.gen.Guest() })
	return s.guest
}

// titleWord strips non-letters and upper-cases the first letter of each word.
func titleWord(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
