package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
)

// RegisterRequest carries the signup form after transport-level decoding.
type RegisterRequest struct {
	Email       string
	Username    string
	Password    string
	FullName    string
	PhoneNumber string
	Role        string
	Profile     domain.RoleProfile
}

// UserInfo is the credential projection exposed to clients. Secret material
// never leaves the application layer.
type UserInfo struct {
	UserID           uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	FullName         string    `json:"fullName"`
	PhoneNumber      string    `json:"phoneNumber,omitempty"`
	Role             string    `json:"role"`
	EmailVerified    bool      `json:"emailVerified"`
	PhoneVerified    bool      `json:"phoneVerified"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
}

// AuthResult is the outcome of an authentication attempt: either a session
// (Token set, RequiresVerification flagging outstanding contact checks) or a
// pending-2FA challenge. Registration sets RequiresVerification with no token.
type AuthResult struct {
	Token                string
	ExpiresIn            int64
	User                 UserInfo
	RequiresVerification bool
	RequiresTwoFactor    bool
}

// TwoFactorSetup is returned once at setup time; the plaintext backup codes
// are never recoverable afterwards.
type TwoFactorSetup struct {
	Secret       string
	ProvisionURI string
	BackupCodes  []string
}

// TwoFactorStatus mirrors the stored 2FA projection.
type TwoFactorStatus struct {
	Enabled   bool
	SetupDate *time.Time
	HasSecret bool
}

func userInfo(c domain.Credential) UserInfo {
	return UserInfo{
		UserID:           c.UserID,
		Email:            c.Email,
		Username:         c.Username,
		FullName:         c.FullName,
		PhoneNumber:      c.PhoneNumber,
		Role:             c.Role,
		EmailVerified:    c.EmailVerified,
		PhoneVerified:    c.PhoneVerified,
		TwoFactorEnabled: c.TwoFactorEnabled,
	}
}
