package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credential is the authentication projection of a platform user.
// It keeps only auth-relevant state so case-management concerns stay out of this service.
type Credential struct {
	UserID       uuid.UUID
	Email        string
	Username     string
	PasswordHash string
	FullName     string
	PhoneNumber  string

	Role    string
	Profile RoleProfile

	EmailVerified       bool
	EmailToken          *string
	EmailTokenExpiresAt *time.Time

	PhoneVerified      bool
	PhoneCode          *string
	PhoneCodeExpiresAt *time.Time

	TwoFactorEnabled   bool
	TwoFactorSecret    *string
	BackupCodes        *string
	TwoFactorSetupDate *time.Time

	IsActive    bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// Roles the platform recognizes. Registration rejects anything outside this set.
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleParent    = "parent"
	RoleCaregiver = "caregiver"
	RoleTherapist = "therapist"
)

// ValidRole reports whether role is one of the closed platform roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleParent, RoleCaregiver, RoleTherapist:
		return true
	}
	return false
}

// RoleProfile is a closed variant carrying only the fields relevant to one role.
// Exactly one of the pointer fields is set, matching the Kind discriminator; the
// general "user" and "admin" roles carry no extra fields.
type RoleProfile struct {
	Kind      string            `json:"kind"`
	Parent    *ParentProfile    `json:"parent,omitempty"`
	Caregiver *CaregiverProfile `json:"caregiver,omitempty"`
	Therapist *TherapistProfile `json:"therapist,omitempty"`
}

// ParentProfile holds guardianship details collected at registration.
type ParentProfile struct {
	RelationshipToRunner string `json:"relationship_to_runner"`
	EmergencyContact     string `json:"emergency_contact"`
}

// CaregiverProfile holds the employing organization details.
type CaregiverProfile struct {
	Organization     string `json:"organization"`
	CaregiverLicense string `json:"caregiver_license"`
}

// TherapistProfile holds professional licensing details.
type TherapistProfile struct {
	LicenseNumber string `json:"license_number"`
	Specialty     string `json:"specialty"`
}

// ProfileForRole validates that the supplied variant matches the role. A
// variant belonging to a different role is invalid input, not silently dropped.
func ProfileForRole(role string, p RoleProfile) (RoleProfile, error) {
	if p.Kind != "" && p.Kind != role {
		return RoleProfile{}, fmt.Errorf("%w: profile kind %q does not match role %q", ErrInvalidInput, p.Kind, role)
	}
	out := RoleProfile{Kind: role}
	switch role {
	case RoleParent:
		if p.Caregiver != nil || p.Therapist != nil {
			return RoleProfile{}, fmt.Errorf("%w: profile fields do not belong to role %q", ErrInvalidInput, role)
		}
		out.Parent = p.Parent
	case RoleCaregiver:
		if p.Parent != nil || p.Therapist != nil {
			return RoleProfile{}, fmt.Errorf("%w: profile fields do not belong to role %q", ErrInvalidInput, role)
		}
		out.Caregiver = p.Caregiver
	case RoleTherapist:
		if p.Parent != nil || p.Caregiver != nil {
			return RoleProfile{}, fmt.Errorf("%w: profile fields do not belong to role %q", ErrInvalidInput, role)
		}
		out.Therapist = p.Therapist
	case RoleUser, RoleAdmin:
		if p.Parent != nil || p.Caregiver != nil || p.Therapist != nil {
			return RoleProfile{}, fmt.Errorf("%w: role %q carries no profile fields", ErrInvalidInput, role)
		}
	default:
		return RoleProfile{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return out, nil
}
