package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

// CredentialRepository persists the credential aggregate in user_credentials.
type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) CreateWithOutboxTx(ctx context.Context, params ports.CreateCredentialParams, events []ports.OutboxEvent) (domain.Credential, error) {
	model, err := credentialFromParams(params)
	if err != nil {
		return domain.Credential{}, err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrConflict
			}
			return fmt.Errorf("insert credential: %w", err)
		}
		for _, event := range events {
			row := outboxFromEvent(event)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("enqueue outbox event %s: %w", event.EventType, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return credentialToDomain(model)
}

func (r *CredentialRepository) GetByEmail(ctx context.Context, email string) (domain.Credential, error) {
	var model credentialModel
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credential{}, domain.ErrNotFound
		}
		return domain.Credential{}, fmt.Errorf("query credential by email: %w", err)
	}
	return credentialToDomain(model)
}

func (r *CredentialRepository) GetByID(ctx context.Context, userID uuid.UUID) (domain.Credential, error) {
	var model credentialModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credential{}, domain.ErrNotFound
		}
		return domain.Credential{}, fmt.Errorf("query credential by id: %w", err)
	}
	return credentialToDomain(model)
}

func (r *CredentialRepository) TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&credentialModel{}).
		Where("user_id = ?", userID).
		Update("last_login_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("touch last login: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CredentialRepository) ResetEmailTokenTx(ctx context.Context, userID uuid.UUID, token string, expiresAt, at time.Time, event ports.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&credentialModel{}).
			Where("user_id = ? AND email_verified = FALSE", userID).
			Updates(map[string]any{
				"email_token":            token,
				"email_token_expires_at": expiresAt.UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("reset email token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyVerified
		}
		row := outboxFromEvent(event)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("enqueue outbox event %s: %w", event.EventType, err)
		}
		return nil
	})
}

func (r *CredentialRepository) ResetPhoneCodeTx(ctx context.Context, userID uuid.UUID, code string, expiresAt, at time.Time, event ports.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&credentialModel{}).
			Where("user_id = ? AND phone_verified = FALSE", userID).
			Updates(map[string]any{
				"phone_code":            code,
				"phone_code_expires_at": expiresAt.UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("reset phone code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyVerified
		}
		row := outboxFromEvent(event)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("enqueue outbox event %s: %w", event.EventType, err)
		}
		return nil
	})
}

func (r *CredentialRepository) ConsumeEmailTokenTx(ctx context.Context, token string, at time.Time, events func(domain.Credential) []ports.OutboxEvent) (domain.Credential, error) {
	return r.consumeTx(ctx, "email_token", token, at, events, func(m credentialModel) *time.Time {
		return m.EmailTokenExpiresAt
	}, map[string]any{
		"email_verified":         true,
		"email_token":            nil,
		"email_token_expires_at": nil,
	})
}

func (r *CredentialRepository) ConsumePhoneCodeTx(ctx context.Context, code string, at time.Time, events func(domain.Credential) []ports.OutboxEvent) (domain.Credential, error) {
	return r.consumeTx(ctx, "phone_code", code, at, events, func(m credentialModel) *time.Time {
		return m.PhoneCodeExpiresAt
	}, map[string]any{
		"phone_verified":        true,
		"phone_code":            nil,
		"phone_code_expires_at": nil,
	})
}

// consumeTx locks the row holding the token, clears it, and flips the
// verified flag in one transaction. The row lock plus the cleared column make
// the consume single-use under concurrency: the loser of a race re-reads a
// row that no longer carries the token and fails with ErrTokenInvalid.
func (r *CredentialRepository) consumeTx(
	ctx context.Context,
	column, value string,
	at time.Time,
	events func(domain.Credential) []ports.OutboxEvent,
	expiryOf func(credentialModel) *time.Time,
	updates map[string]any,
) (domain.Credential, error) {
	var out domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model credentialModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(column+" = ?", value).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTokenInvalid
			}
			return fmt.Errorf("lock credential for consume: %w", err)
		}
		expiry := expiryOf(model)
		if expiry == nil || at.After(*expiry) {
			return domain.ErrTokenExpired
		}
		if err := tx.Model(&credentialModel{}).
			Where("user_id = ?", model.UserID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("consume %s: %w", column, err)
		}
		out, err = credentialToDomain(model)
		if err != nil {
			return err
		}
		// Reflect the committed state in the returned aggregate.
		if column == "email_token" {
			out.EmailVerified = true
			out.EmailToken = nil
			out.EmailTokenExpiresAt = nil
		} else {
			out.PhoneVerified = true
			out.PhoneCode = nil
			out.PhoneCodeExpiresAt = nil
		}
		if events == nil {
			return nil
		}
		for _, event := range events(out) {
			row := outboxFromEvent(event)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("enqueue outbox event %s: %w", event.EventType, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return out, nil
}

func (r *CredentialRepository) SetTwoFactorPending(ctx context.Context, userID uuid.UUID, secret, backupCodes string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&credentialModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"two_factor_secret": secret,
			"backup_codes":      backupCodes,
		})
	if res.Error != nil {
		return fmt.Errorf("store pending 2fa secret: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CredentialRepository) EnableTwoFactor(ctx context.Context, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&credentialModel{}).
		Where("user_id = ? AND two_factor_secret IS NOT NULL", userID).
		Updates(map[string]any{
			"two_factor_enabled":    true,
			"two_factor_setup_date": at.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("enable 2fa: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrTwoFactorNotReady
	}
	return nil
}

func (r *CredentialRepository) DisableTwoFactor(ctx context.Context, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&credentialModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"two_factor_enabled":    false,
			"two_factor_secret":     nil,
			"backup_codes":          nil,
			"two_factor_setup_date": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("disable 2fa: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CredentialRepository) ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, previous, next string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&credentialModel{}).
		Where("user_id = ? AND backup_codes = ?", userID, previous).
		Update("backup_codes", next)
	if res.Error != nil {
		return fmt.Errorf("replace backup codes: %w", res.Error)
	}
	// Zero rows means another request consumed a code from the same list
	// first; the caller must re-read and re-validate.
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *CredentialRepository) TwoFactorStatus(ctx context.Context, email string) (ports.TwoFactorState, error) {
	var model credentialModel
	err := r.db.WithContext(ctx).
		Select("two_factor_enabled", "two_factor_setup_date", "two_factor_secret").
		Where("email = ?", email).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.TwoFactorState{}, domain.ErrNotFound
		}
		return ports.TwoFactorState{}, fmt.Errorf("query 2fa status: %w", err)
	}
	return ports.TwoFactorState{
		Enabled:   model.TwoFactorEnabled,
		SetupDate: model.TwoFactorSetupDate,
		HasSecret: model.TwoFactorSecret != nil && *model.TwoFactorSecret != "",
	}, nil
}
