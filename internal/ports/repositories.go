package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
)

// OutboxEvent is a notification or domain event prior to storage.
// It is adapter-neutral so the application stays independent of broker and
// delivery-provider specifics.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord is the durable outbox state, including retry/claim metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for enqueued notifications.
// Enqueueing rides the credential transaction, so a state transition and its
// notification commit or roll back together; delivery happens asynchronously.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

// CreateCredentialParams captures atomic registration inputs.
type CreateCredentialParams struct {
	Email               string
	Username            string
	PasswordHash        string
	FullName            string
	PhoneNumber         string
	Role                string
	Profile             domain.RoleProfile
	EmailVerified       bool
	EmailToken          *string
	EmailTokenExpiresAt *time.Time
	PhoneCode           *string
	PhoneCodeExpiresAt  *time.Time
	RegisteredAtUTC     time.Time
}

// TwoFactorState is the projection served by the 2FA status endpoint.
type TwoFactorState struct {
	Enabled   bool
	SetupDate *time.Time
	HasSecret bool
}

// CredentialRepository defines persistence for the credential aggregate.
//
// Every verification consume is a compare-and-swap inside one transaction: the
// matching row is locked, its token/code and expiry are cleared, and the
// verified flag is set, so two racing attempts cannot both succeed.
type CredentialRepository interface {
	// CreateWithOutboxTx inserts the credential and its verification
	// notifications in one transaction. Duplicate email or username maps to
	// domain.ErrConflict with no partial record.
	CreateWithOutboxTx(ctx context.Context, params CreateCredentialParams, events []OutboxEvent) (domain.Credential, error)

	GetByEmail(ctx context.Context, email string) (domain.Credential, error)
	GetByID(ctx context.Context, userID uuid.UUID) (domain.Credential, error)

	// TouchLastLogin records a successful authentication prior to token issuance.
	TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error

	// ResetEmailTokenTx installs a fresh email token/expiry and enqueues its
	// notification atomically. Used by registration resend.
	ResetEmailTokenTx(ctx context.Context, userID uuid.UUID, token string, expiresAt, at time.Time, event OutboxEvent) error
	// ResetPhoneCodeTx is the SMS counterpart of ResetEmailTokenTx.
	ResetPhoneCodeTx(ctx context.Context, userID uuid.UUID, code string, expiresAt, at time.Time, event OutboxEvent) error

	// ConsumeEmailTokenTx clears the matching token, marks the email verified,
	// and enqueues the follow-up notifications in one transaction. The events
	// callback runs after the owning row is located, inside the transaction,
	// so follow-ups can address the verified account. Returns
	// domain.ErrTokenInvalid when no row carries the token and
	// domain.ErrTokenExpired when the row exists but the expiry has passed.
	ConsumeEmailTokenTx(ctx context.Context, token string, at time.Time, events func(domain.Credential) []OutboxEvent) (domain.Credential, error)
	// ConsumePhoneCodeTx is the SMS counterpart of ConsumeEmailTokenTx.
	ConsumePhoneCodeTx(ctx context.Context, code string, at time.Time, events func(domain.Credential) []OutboxEvent) (domain.Credential, error)

	// SetTwoFactorPending stores a freshly generated secret and backup-code
	// list without enabling the factor.
	SetTwoFactorPending(ctx context.Context, userID uuid.UUID, secret, backupCodes string, at time.Time) error
	// EnableTwoFactor flips the enabled flag and records the setup timestamp.
	EnableTwoFactor(ctx context.Context, userID uuid.UUID, at time.Time) error
	// DisableTwoFactor clears secret, backup codes, and setup timestamp.
	DisableTwoFactor(ctx context.Context, userID uuid.UUID, at time.Time) error
	// ReplaceBackupCodes swaps the serialized list for one with a code
	// consumed, guarded on the list the caller read. Returns
	// domain.ErrConflict when the stored list no longer matches previous.
	ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, previous, next string, at time.Time) error

	// TwoFactorStatus reads the 2FA projection without loading secret material.
	TwoFactorStatus(ctx context.Context, email string) (TwoFactorState, error)
}
