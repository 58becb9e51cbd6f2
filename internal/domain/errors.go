package domain

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials covers unknown email, wrong password, and inactive
	// account alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountLocked signals temporary lockout after repeated failed logins.
	ErrAccountLocked = errors.New("too many failed attempts")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conflict")
	ErrRateLimited   = errors.New("rate limited")
	// ErrTokenExpired marks a verification token that exists but has lapsed.
	ErrTokenExpired = errors.New("verification token expired")
	// ErrTokenInvalid covers absent, consumed, and mismatched tokens alike.
	ErrTokenInvalid = errors.New("invalid verification token")
	// ErrAlreadyVerified makes resend a no-op failure on a verified channel.
	ErrAlreadyVerified = errors.New("already verified")
	// ErrTwoFactorEnabled blocks setup when a second factor is already active.
	ErrTwoFactorEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorNotReady is returned when enable/verify runs without a stored secret.
	ErrTwoFactorNotReady = errors.New("two-factor authentication not configured")
	// ErrTwoFactorCode is the single failure value for a bad TOTP or backup code.
	ErrTwoFactorCode = errors.New("invalid code")
)
