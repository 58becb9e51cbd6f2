package security

import (
	"context"
	"strings"

	"google.golang.org/api/idtoken"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

// GoogleTokenVerifier validates Google ID tokens against one OAuth client ID.
type GoogleTokenVerifier struct {
	clientID string
}

func NewGoogleTokenVerifier(clientID string) *GoogleTokenVerifier {
	return &GoogleTokenVerifier{clientID: clientID}
}

func (v *GoogleTokenVerifier) Verify(ctx context.Context, raw string) (ports.GoogleIdentity, error) {
	if v.clientID == "" {
		return ports.GoogleIdentity{}, domain.ErrUnauthorized
	}
	payload, err := idtoken.Validate(ctx, raw, v.clientID)
	if err != nil {
		return ports.GoogleIdentity{}, domain.ErrUnauthorized
	}
	identity := ports.GoogleIdentity{Subject: payload.Subject}
	if email, ok := payload.Claims["email"].(string); ok {
		identity.Email = email
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}
	if name, ok := payload.Claims["name"].(string); ok {
		identity.FullName = name
	} else {
		given, _ := payload.Claims["given_name"].(string)
		family, _ := payload.Claims["family_name"].(string)
		identity.FullName = strings.TrimSpace(given + " " + family)
	}
	return identity, nil
}
