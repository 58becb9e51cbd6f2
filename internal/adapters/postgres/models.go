package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

type credentialModel struct {
	UserID              uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey"`
	Email               string     `gorm:"column:email;uniqueIndex;not null"`
	Username            string     `gorm:"column:username;uniqueIndex;not null"`
	PasswordHash        string     `gorm:"column:password_hash;not null"`
	FullName            string     `gorm:"column:full_name"`
	PhoneNumber         string     `gorm:"column:phone_number"`
	Role                string     `gorm:"column:role;not null"`
	Profile             []byte     `gorm:"column:profile;type:jsonb"`
	EmailVerified       bool       `gorm:"column:email_verified;not null"`
	EmailToken          *string    `gorm:"column:email_token;index"`
	EmailTokenExpiresAt *time.Time `gorm:"column:email_token_expires_at"`
	PhoneVerified       bool       `gorm:"column:phone_verified;not null"`
	PhoneCode           *string    `gorm:"column:phone_code;index"`
	PhoneCodeExpiresAt  *time.Time `gorm:"column:phone_code_expires_at"`
	TwoFactorEnabled    bool       `gorm:"column:two_factor_enabled;not null"`
	TwoFactorSecret     *string    `gorm:"column:two_factor_secret"`
	BackupCodes         *string    `gorm:"column:backup_codes"`
	TwoFactorSetupDate  *time.Time `gorm:"column:two_factor_setup_date"`
	IsActive            bool       `gorm:"column:is_active;not null"`
	CreatedAt           time.Time  `gorm:"column:created_at;not null"`
	LastLoginAt         *time.Time `gorm:"column:last_login_at"`
}

func (credentialModel) TableName() string { return "user_credentials" }

type outboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type;not null"`
	PartitionKey   string     `gorm:"column:partition_key;not null"`
	Payload        []byte     `gorm:"column:payload;type:jsonb;not null"`
	RetryCount     int        `gorm:"column:retry_count;not null"`
	LastError      *string    `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;index"`
	PublishedAt    *time.Time `gorm:"column:published_at;index"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "notification_outbox" }

func credentialToDomain(m credentialModel) (domain.Credential, error) {
	var profile domain.RoleProfile
	if len(m.Profile) > 0 {
		if err := json.Unmarshal(m.Profile, &profile); err != nil {
			return domain.Credential{}, fmt.Errorf("decode role profile for %s: %w", m.UserID, err)
		}
	}
	return domain.Credential{
		UserID:              m.UserID,
		Email:               m.Email,
		Username:            m.Username,
		PasswordHash:        m.PasswordHash,
		FullName:            m.FullName,
		PhoneNumber:         m.PhoneNumber,
		Role:                m.Role,
		Profile:             profile,
		EmailVerified:       m.EmailVerified,
		EmailToken:          m.EmailToken,
		EmailTokenExpiresAt: m.EmailTokenExpiresAt,
		PhoneVerified:       m.PhoneVerified,
		PhoneCode:           m.PhoneCode,
		PhoneCodeExpiresAt:  m.PhoneCodeExpiresAt,
		TwoFactorEnabled:    m.TwoFactorEnabled,
		TwoFactorSecret:     m.TwoFactorSecret,
		BackupCodes:         m.BackupCodes,
		TwoFactorSetupDate:  m.TwoFactorSetupDate,
		IsActive:            m.IsActive,
		CreatedAt:           m.CreatedAt,
		LastLoginAt:         m.LastLoginAt,
	}, nil
}

func credentialFromParams(p ports.CreateCredentialParams) (credentialModel, error) {
	profile, err := json.Marshal(p.Profile)
	if err != nil {
		return credentialModel{}, fmt.Errorf("encode role profile: %w", err)
	}
	return credentialModel{
		UserID:              uuid.New(),
		Email:               p.Email,
		Username:            p.Username,
		PasswordHash:        p.PasswordHash,
		FullName:            p.FullName,
		PhoneNumber:         p.PhoneNumber,
		Role:                p.Role,
		Profile:             profile,
		EmailVerified:       p.EmailVerified,
		EmailToken:          p.EmailToken,
		EmailTokenExpiresAt: p.EmailTokenExpiresAt,
		PhoneCode:           p.PhoneCode,
		PhoneCodeExpiresAt:  p.PhoneCodeExpiresAt,
		IsActive:            true,
		CreatedAt:           p.RegisteredAtUTC,
	}, nil
}

func outboxFromEvent(e ports.OutboxEvent) outboxModel {
	id := e.EventID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := e.OccurredAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return outboxModel{
		OutboxID:     id,
		EventType:    e.EventType,
		PartitionKey: e.PartitionKey,
		Payload:      e.Payload,
		CreatedAt:    createdAt,
	}
}

func outboxToRecord(m outboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       m.OutboxID,
		EventType:      m.EventType,
		PartitionKey:   m.PartitionKey,
		Payload:        m.Payload,
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		PublishedAt:    m.PublishedAt,
		LastErrorAt:    m.LastErrorAt,
		ClaimToken:     m.ClaimToken,
		ClaimUntil:     m.ClaimUntil,
		DeadLetteredAt: m.DeadLetteredAt,
	}
}
