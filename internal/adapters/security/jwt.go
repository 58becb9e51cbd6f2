package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

// JWTSigner issues RS256 session tokens and validates them on the way back in.
type JWTSigner struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	keyID      string
	ttl        time.Duration
	now        func() time.Time
}

type sessionClaims struct {
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	PhoneVerified bool   `json:"phone_verified"`
	jwt.RegisteredClaims
}

// NewJWTSigner builds a signer from PEM-encoded RSA key material.
func NewJWTSigner(privatePEM, publicPEM []byte, issuer, keyID string, ttl time.Duration) (*JWTSigner, error) {
	priv, err := parseRSAPrivate(privatePEM)
	if err != nil {
		return nil, err
	}
	pub, err := parseRSAPublic(publicPEM)
	if err != nil {
		return nil, err
	}
	return &JWTSigner{
		privateKey: priv,
		publicKey:  pub,
		issuer:     issuer,
		keyID:      keyID,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// NewEphemeralJWTSigner generates a throwaway keypair. Tokens do not survive a
// restart, which is acceptable for local development only.
func NewEphemeralJWTSigner(issuer string, ttl time.Duration) (*JWTSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral rsa key: %w", err)
	}
	return &JWTSigner{
		privateKey: key,
		publicKey:  &key.PublicKey,
		issuer:     issuer,
		keyID:      "ephemeral",
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

func (s *JWTSigner) TTL() time.Duration { return s.ttl }

func (s *JWTSigner) Sign(claims ports.AuthClaims) (string, error) {
	now := s.now().UTC()
	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = now
	}
	expiresAt := claims.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(s.ttl)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, sessionClaims{
		Email:         claims.Email,
		Role:          claims.Role,
		EmailVerified: claims.EmailVerified,
		PhoneVerified: claims.PhoneVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claims.UserID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func (s *JWTSigner) ParseAndValidate(raw string) (ports.AuthClaims, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.publicKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	out := ports.AuthClaims{
		UserID:        userID,
		Email:         claims.Email,
		Role:          claims.Role,
		EmailVerified: claims.EmailVerified,
		PhoneVerified: claims.PhoneVerified,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func parseRSAPrivate(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

func parseRSAPublic(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block in public key")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not rsa")
	}
	return key, nil
}
