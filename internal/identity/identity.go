// Package identity holds the caller's bearer credential and the identity
// decoded from it. The engine uses the decoded id to recognize its own
// messages; verifying the token is the server's job, never the client's.
package identity

import (
	"fmt"
	"os"
	"strings"

	"github.com/charla-social/charla/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

// PlaceholderName renders when the server omits an author's display name.
const PlaceholderName = "Usuario"

// PlaceholderAvatar renders when the server omits an author's avatar.
const PlaceholderAvatar = "/assets/avatar-default.png"

// Store supplies the bearer token and the caller's own identity.
type Store struct {
	token string
	self  store.Identity
}

// New decodes the bearer token's claims (unverified — client side only) and
// builds the store. The subject claim is required; name and avatar fall back
// to placeholders.
func New(token string) (*Store, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject claim")
	}

	self := store.Identity{
		ID:          sub,
		DisplayName: stringClaim(claims, "name", PlaceholderName),
		AvatarURL:   stringClaim(claims, "avatar", PlaceholderAvatar),
	}
	return &Store{token: token, self: self}, nil
}

// Load reads the token from a file under the profile dir and decodes it.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return New(string(data))
}

// Token returns the bearer token for Authorization headers.
func (s *Store) Token() string { return s.token }

// Self returns the caller's own identity.
func (s *Store) Self() store.Identity { return s.self }

// Owns reports whether the given message was authored by the caller, which
// gates the edit/delete affordances.
func (s *Store) Owns(m store.Message) bool {
	return m.Author.ID == s.self.ID
}

func stringClaim(claims jwt.MapClaims, key, fallback string) string {
	if v, ok := claims[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
