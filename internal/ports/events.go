package ports

import "context"

// Outbox event types. The "notify." prefix routes a row to a delivery channel
// instead of the broker.
const (
	EventEmailVerification = "notify.email.verification"
	EventEmailWelcome      = "notify.email.welcome"
	EventSMSVerification   = "notify.sms.verification"
	EventUserRegistered    = "auth.user.registered"
	EventEmailVerified     = "auth.email.verified"
	EventPhoneVerified     = "auth.phone.verified"
)

// EmailPayload is the stored form of an outgoing email notification.
type EmailPayload struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"htmlBody"`
}

// SMSPayload is the stored form of an outgoing SMS notification.
type SMSPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// EventPublisher pushes domain events to the broker. Implementations must be
// safe for concurrent use by the outbox worker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error
}

// Mailer delivers transactional email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// SMSSender delivers short verification messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}
