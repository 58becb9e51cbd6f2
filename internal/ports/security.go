package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PasswordHasher abstracts the credential hashing scheme.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// AuthClaims is the validated content of a session token.
type AuthClaims struct {
	UserID        uuid.UUID
	Email         string
	Role          string
	EmailVerified bool
	PhoneVerified bool
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// TokenSigner issues and validates signed session tokens.
type TokenSigner interface {
	Sign(claims AuthClaims) (string, error)
	ParseAndValidate(token string) (AuthClaims, error)
	// TTL is the lifetime applied to newly issued tokens.
	TTL() time.Duration
}

// GoogleIdentity is the verified payload of a Google ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	FullName      string
}

// GoogleVerifier validates Google-issued ID tokens against the configured
// OAuth client.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleIdentity, error)
}
