package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/totp"
)

// totpReplayWindow covers the current 30-second step plus one step of
// accepted skew on either side.
const totpReplayWindow = 90 * time.Second

// consumeTOTP validates an authenticator code and marks it spent. A code seen
// again inside the replay window fails even though the secret still matches.
func (s *Service) consumeTOTP(ctx context.Context, userID uuid.UUID, secret, code string) error {
	if !s.totp.Validate(secret, code) {
		return domain.ErrTwoFactorCode
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	key := "auth:totp:" + userID.String() + ":" + hex.EncodeToString(sum[:8])
	fresh, err := s.throttle.Allow(ctx, key, 1, totpReplayWindow)
	if err != nil {
		return fmt.Errorf("totp replay check: %w", err)
	}
	if !fresh {
		return domain.ErrTwoFactorCode
	}
	return nil
}

// SetupTwoFactor generates secret material for the caller's own account. The
// factor stays disabled until EnableTwoFactor proves the authenticator works.
func (s *Service) SetupTwoFactor(ctx context.Context, claims ports.AuthClaims, email string) (TwoFactorSetup, error) {
	cred, err := s.ownCredential(ctx, claims, email)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if cred.TwoFactorEnabled {
		return TwoFactorSetup{}, domain.ErrTwoFactorEnabled
	}
	secret, uri, err := s.totp.GenerateSecret(cred.Email)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	plain, serialized, err := totp.GenerateBackupCodes(totp.BackupCodeCount)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if err := s.users.SetTwoFactorPending(ctx, cred.UserID, secret, serialized, s.now().UTC()); err != nil {
		return TwoFactorSetup{}, err
	}
	s.logger.InfoContext(ctx, "two-factor setup issued",
		slog.String("operation", "2fa_setup"),
		slog.String("user_id", cred.UserID.String()),
	)
	return TwoFactorSetup{Secret: secret, ProvisionURI: uri, BackupCodes: plain}, nil
}

// EnableTwoFactor turns the factor on after the caller proves possession of
// the authenticator with a fresh code. Backup codes are not accepted here.
func (s *Service) EnableTwoFactor(ctx context.Context, claims ports.AuthClaims, email, code string) error {
	cred, err := s.ownCredential(ctx, claims, email)
	if err != nil {
		return err
	}
	if cred.TwoFactorEnabled {
		return domain.ErrTwoFactorEnabled
	}
	if cred.TwoFactorSecret == nil || *cred.TwoFactorSecret == "" {
		return domain.ErrTwoFactorNotReady
	}
	if err := s.consumeTOTP(ctx, cred.UserID, *cred.TwoFactorSecret, code); err != nil {
		return err
	}
	if err := s.users.EnableTwoFactor(ctx, cred.UserID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "two-factor enabled",
		slog.String("operation", "2fa_enable"),
		slog.String("user_id", cred.UserID.String()),
		slog.String("outcome", "enabled"),
	)
	return nil
}

// DisableTwoFactor tears the factor down. Only a fresh authenticator code
// authorizes the change; backup codes cannot disable the factor.
func (s *Service) DisableTwoFactor(ctx context.Context, claims ports.AuthClaims, email, code string) error {
	cred, err := s.ownCredential(ctx, claims, email)
	if err != nil {
		return err
	}
	if !cred.TwoFactorEnabled {
		return domain.ErrTwoFactorNotReady
	}
	if cred.TwoFactorSecret == nil {
		return domain.ErrTwoFactorCode
	}
	if err := s.consumeTOTP(ctx, cred.UserID, *cred.TwoFactorSecret, code); err != nil {
		return err
	}
	if err := s.users.DisableTwoFactor(ctx, cred.UserID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "two-factor disabled",
		slog.String("operation", "2fa_disable"),
		slog.String("user_id", cred.UserID.String()),
		slog.String("outcome", "disabled"),
	)
	return nil
}

// VerifyTwoFactor completes a login that Login answered with a 2FA challenge.
// Backup codes are tried before the authenticator so a lost device still gets
// in; a consumed backup code is struck from the list in the same request.
// Every failure path shares one error value.
func (s *Service) VerifyTwoFactor(ctx context.Context, email, code string) (AuthResult, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return AuthResult{}, domain.ErrTwoFactorCode
	}
	cred, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AuthResult{}, domain.ErrTwoFactorCode
		}
		return AuthResult{}, err
	}
	if !cred.IsActive || !cred.TwoFactorEnabled || cred.TwoFactorSecret == nil {
		return AuthResult{}, domain.ErrTwoFactorCode
	}

	if cred.BackupCodes != nil && totp.ValidateBackupCode(*cred.BackupCodes, code) {
		remaining, ok := totp.RemoveUsedBackupCode(*cred.BackupCodes, code)
		if !ok {
			return AuthResult{}, domain.ErrTwoFactorCode
		}
		if err := s.users.ReplaceBackupCodes(ctx, cred.UserID, *cred.BackupCodes, remaining, s.now().UTC()); err != nil {
			// A concurrent request spent a code from the same snapshot;
			// this one loses and the code stays single-use.
			if errors.Is(err, domain.ErrConflict) {
				return AuthResult{}, domain.ErrTwoFactorCode
			}
			return AuthResult{}, fmt.Errorf("consume backup code: %w", err)
		}
		s.logger.InfoContext(ctx, "backup code consumed",
			slog.String("operation", "2fa_verify"),
			slog.String("user_id", cred.UserID.String()),
			slog.Int("codes_remaining", totp.RemainingBackupCodes(remaining)),
		)
		return s.establishSession(ctx, cred, "2fa_verify")
	}

	if err := s.consumeTOTP(ctx, cred.UserID, *cred.TwoFactorSecret, code); err != nil {
		if errors.Is(err, domain.ErrTwoFactorCode) {
			s.logger.WarnContext(ctx, "two-factor verification failed",
				slog.String("operation", "2fa_verify"),
				slog.String("user_id", cred.UserID.String()),
				slog.String("outcome", "rejected"),
			)
		}
		return AuthResult{}, err
	}
	return s.establishSession(ctx, cred, "2fa_verify")
}

// TwoFactorStatus reports the caller's own 2FA projection.
func (s *Service) TwoFactorStatus(ctx context.Context, claims ports.AuthClaims, email string) (TwoFactorStatus, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = claims.Email
	}
	if !strings.EqualFold(email, claims.Email) {
		return TwoFactorStatus{}, domain.ErrUnauthorized
	}
	state, err := s.users.TwoFactorStatus(ctx, claims.Email)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	return TwoFactorStatus{Enabled: state.Enabled, SetupDate: state.SetupDate, HasSecret: state.HasSecret}, nil
}

// ownCredential loads the account named by email after checking it belongs to
// the authenticated caller.
func (s *Service) ownCredential(ctx context.Context, claims ports.AuthClaims, email string) (domain.Credential, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = claims.Email
	}
	if !strings.EqualFold(email, claims.Email) {
		return domain.Credential{}, domain.ErrUnauthorized
	}
	cred, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return domain.Credential{}, err
	}
	if !cred.IsActive {
		return domain.Credential{}, domain.ErrUnauthorized
	}
	return cred, nil
}
