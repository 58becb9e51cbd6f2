// Package application implements the authentication workflows behind the HTTP
// surface: registration, login, contact verification, and the TOTP second
// factor. It speaks only to ports, never to concrete adapters.
package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/totp"
)

// Config tunes the authentication workflows.
type Config struct {
	DefaultRole      string
	EmailTokenTTL    time.Duration
	PhoneCodeTTL     time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration
	ResendLimit      int
	ResendWindow     time.Duration
	// VerifyURLBase is the frontend page that swallows the emailed token,
	// e.g. https://241runnersawareness.org/verify-email.
	VerifyURLBase string
	TOTPIssuer    string
}

func (c Config) withDefaults() Config {
	if c.DefaultRole == "" {
		c.DefaultRole = domain.RoleUser
	}
	if c.EmailTokenTTL <= 0 {
		c.EmailTokenTTL = 24 * time.Hour
	}
	if c.PhoneCodeTTL <= 0 {
		c.PhoneCodeTTL = 10 * time.Minute
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = 15 * time.Minute
	}
	if c.ResendLimit <= 0 {
		c.ResendLimit = 3
	}
	if c.ResendWindow <= 0 {
		c.ResendWindow = time.Hour
	}
	if c.TOTPIssuer == "" {
		c.TOTPIssuer = "241 Runners Awareness"
	}
	return c
}

// Service orchestrates the credential lifecycle.
type Service struct {
	cfg      Config
	users    ports.CredentialRepository
	hasher   ports.PasswordHasher
	signer   ports.TokenSigner
	google   ports.GoogleVerifier
	lockout  ports.LockoutStore
	throttle ports.ThrottleStore
	totp     *totp.Engine
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(
	cfg Config,
	users ports.CredentialRepository,
	hasher ports.PasswordHasher,
	signer ports.TokenSigner,
	google ports.GoogleVerifier,
	lockout ports.LockoutStore,
	throttle ports.ThrottleStore,
	logger *slog.Logger,
) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		users:    users,
		hasher:   hasher,
		signer:   signer,
		google:   google,
		lockout:  lockout,
		throttle: throttle,
		totp:     totp.NewEngine(cfg.TOTPIssuer),
		logger:   logger.With(slog.String("module", "auth")),
		now:      time.Now,
	}
}

// Register creates an inactive-for-login credential and queues verification
// notifications. The insert and the queue rows share one transaction, so a
// failed notification enqueue leaves no account behind.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return AuthResult{}, fmt.Errorf("%w: malformed email address", domain.ErrInvalidInput)
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return AuthResult{}, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidatePassword(req.Password); err != nil {
		return AuthResult{}, err
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = s.cfg.DefaultRole
	}
	if !domain.ValidRole(role) {
		return AuthResult{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	profile, err := domain.ProfileForRole(role, req.Profile)
	if err != nil {
		return AuthResult{}, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	emailToken, err := randomHex(32)
	if err != nil {
		return AuthResult{}, err
	}
	emailExpiry := now.Add(s.cfg.EmailTokenTTL)
	params := ports.CreateCredentialParams{
		Email:               email,
		Username:            username,
		PasswordHash:        hash,
		FullName:            strings.TrimSpace(req.FullName),
		PhoneNumber:         strings.TrimSpace(req.PhoneNumber),
		Role:                role,
		Profile:             profile,
		EmailToken:          &emailToken,
		EmailTokenExpiresAt: &emailExpiry,
		RegisteredAtUTC:     now,
	}

	events := []ports.OutboxEvent{
		s.verificationEmailEvent(email, params.FullName, emailToken, now),
	}
	if params.PhoneNumber != "" {
		code, err := randomDigits(6)
		if err != nil {
			return AuthResult{}, err
		}
		phoneExpiry := now.Add(s.cfg.PhoneCodeTTL)
		params.PhoneCode = &code
		params.PhoneCodeExpiresAt = &phoneExpiry
		events = append(events, s.verificationSMSEvent(params.PhoneNumber, email, code, now))
	}
	events = append(events, s.domainEvent(ports.EventUserRegistered, email, map[string]any{
		"email": email,
		"role":  role,
	}, now))

	cred, err := s.users.CreateWithOutboxTx(ctx, params, events)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return AuthResult{}, fmt.Errorf("%w: email or username already registered", domain.ErrConflict)
		}
		return AuthResult{}, err
	}
	s.logger.InfoContext(ctx, "credential registered",
		slog.String("operation", "register"),
		slog.String("user_id", cred.UserID.String()),
		slog.String("role", cred.Role),
		slog.String("outcome", "pending_verification"),
	)
	return AuthResult{RequiresVerification: true, User: userInfo(cred)}, nil
}

// Login authenticates with email and password. Unknown email and wrong
// password share one failure value so the response cannot be used to probe
// which addresses hold accounts.
func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return AuthResult{}, domain.ErrInvalidCredentials
	}
	if locked, err := s.isLockedOut(ctx, email); err != nil {
		return AuthResult{}, err
	} else if locked {
		return AuthResult{}, domain.ErrAccountLocked
	}

	cred, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AuthResult{}, s.recordLoginFailure(ctx, email)
		}
		return AuthResult{}, err
	}
	if !cred.IsActive {
		return AuthResult{}, s.recordLoginFailure(ctx, email)
	}
	if err := s.hasher.Compare(cred.PasswordHash, password); err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return AuthResult{}, s.recordLoginFailure(ctx, email)
		}
		return AuthResult{}, err
	}
	if err := s.lockout.Clear(ctx, lockoutID(email)); err != nil {
		s.logger.WarnContext(ctx, "lockout clear failed",
			slog.String("operation", "login"),
			slog.String("error", err.Error()),
		)
	}

	if cred.TwoFactorEnabled {
		return AuthResult{RequiresTwoFactor: true, User: userInfo(cred)}, nil
	}
	return s.establishSession(ctx, cred, "login")
}

// GoogleLogin verifies a Google ID token and either signs the holder in or
// provisions a credential for a first-time visitor.
func (s *Service) GoogleLogin(ctx context.Context, idToken string) (AuthResult, error) {
	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return AuthResult{}, domain.ErrUnauthorized
	}
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		return AuthResult{}, domain.ErrUnauthorized
	}

	cred, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		cred, err = s.provisionGoogleCredential(ctx, identity)
	}
	if err != nil {
		return AuthResult{}, err
	}
	if !cred.IsActive {
		return AuthResult{}, domain.ErrUnauthorized
	}
	if cred.TwoFactorEnabled {
		return AuthResult{RequiresTwoFactor: true, User: userInfo(cred)}, nil
	}
	return s.establishSession(ctx, cred, "google_login")
}

func (s *Service) provisionGoogleCredential(ctx context.Context, identity ports.GoogleIdentity) (domain.Credential, error) {
	// The account is password-less; the stored hash is random so no password
	// can ever compare against it.
	filler, err := randomHex(32)
	if err != nil {
		return domain.Credential{}, err
	}
	hash, err := s.hasher.Hash(filler)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("hash filler password: %w", err)
	}
	now := s.now().UTC()
	suffix, err := randomHex(3)
	if err != nil {
		return domain.Credential{}, err
	}
	local := identity.Email
	if i := strings.IndexByte(local, '@'); i > 0 {
		local = local[:i]
	}
	params := ports.CreateCredentialParams{
		Email:           strings.TrimSpace(identity.Email),
		Username:        local + "-" + suffix,
		PasswordHash:    hash,
		FullName:        strings.TrimSpace(identity.FullName),
		Role:            s.cfg.DefaultRole,
		Profile:         domain.RoleProfile{Kind: s.cfg.DefaultRole},
		EmailVerified:   identity.EmailVerified,
		RegisteredAtUTC: now,
	}
	events := []ports.OutboxEvent{
		s.domainEvent(ports.EventUserRegistered, params.Email, map[string]any{
			"email":    params.Email,
			"role":     params.Role,
			"provider": "google",
		}, now),
	}
	if identity.EmailVerified {
		events = append(events, s.welcomeEmailEvent(params.Email, params.FullName, now))
	} else {
		token, err := randomHex(32)
		if err != nil {
			return domain.Credential{}, err
		}
		expiry := now.Add(s.cfg.EmailTokenTTL)
		params.EmailToken = &token
		params.EmailTokenExpiresAt = &expiry
		events = append(events, s.verificationEmailEvent(params.Email, params.FullName, token, now))
	}
	cred, err := s.users.CreateWithOutboxTx(ctx, params, events)
	if err != nil {
		return domain.Credential{}, err
	}
	s.logger.InfoContext(ctx, "credential provisioned from google identity",
		slog.String("operation", "google_login"),
		slog.String("user_id", cred.UserID.String()),
	)
	return cred, nil
}

// VerifyEmail consumes an emailed token. A token can succeed once; the losing
// side of a race, and any later retry, sees the invalid-token failure rather
// than the expired one.
func (s *Service) VerifyEmail(ctx context.Context, token string) (UserInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return UserInfo{}, domain.ErrTokenInvalid
	}
	now := s.now().UTC()
	// Follow-ups ride the consume transaction, so a verified flag without its
	// welcome notification cannot be observed.
	cred, err := s.users.ConsumeEmailTokenTx(ctx, token, now, func(c domain.Credential) []ports.OutboxEvent {
		return []ports.OutboxEvent{
			s.welcomeEmailEvent(c.Email, c.FullName, now),
			s.domainEvent(ports.EventEmailVerified, c.Email, map[string]any{"email": c.Email}, now),
		}
	})
	if err != nil {
		return UserInfo{}, err
	}
	s.logger.InfoContext(ctx, "email verified",
		slog.String("operation", "verify_email"),
		slog.String("user_id", cred.UserID.String()),
		slog.String("outcome", "verified"),
	)
	return userInfo(cred), nil
}

// VerifyPhone consumes a six-digit SMS code under the same single-use rule as
// VerifyEmail.
func (s *Service) VerifyPhone(ctx context.Context, code string) (UserInfo, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return UserInfo{}, domain.ErrTokenInvalid
	}
	now := s.now().UTC()
	cred, err := s.users.ConsumePhoneCodeTx(ctx, code, now, func(c domain.Credential) []ports.OutboxEvent {
		return []ports.OutboxEvent{
			s.domainEvent(ports.EventPhoneVerified, c.Email, map[string]any{"email": c.Email}, now),
		}
	})
	if err != nil {
		return UserInfo{}, err
	}
	s.logger.InfoContext(ctx, "phone verified",
		slog.String("operation", "verify_phone"),
		slog.String("user_id", cred.UserID.String()),
		slog.String("outcome", "verified"),
	)
	return userInfo(cred), nil
}

// Channels accepted by ResendVerification.
const (
	ChannelEmail = "email"
	ChannelPhone = "phone"
)

// ResendVerification issues a fresh token or code for an unverified contact.
// Unknown addresses are treated as success so the endpoint cannot confirm
// account existence; repeated requests are throttled per address and channel.
func (s *Service) ResendVerification(ctx context.Context, email, channel string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	if channel != ChannelEmail && channel != ChannelPhone {
		return fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, channel)
	}
	allowed, err := s.throttle.Allow(ctx, channel+":"+email, s.cfg.ResendLimit, s.cfg.ResendWindow)
	if err != nil {
		return err
	}
	if !allowed {
		return domain.ErrRateLimited
	}

	cred, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.InfoContext(ctx, "resend requested for unknown address",
				slog.String("operation", "resend_verification"),
				slog.String("channel", channel),
				slog.String("outcome", "noop"),
			)
			return nil
		}
		return err
	}

	now := s.now().UTC()
	switch channel {
	case ChannelEmail:
		if cred.EmailVerified {
			return domain.ErrAlreadyVerified
		}
		token, err := randomHex(32)
		if err != nil {
			return err
		}
		err = s.users.ResetEmailTokenTx(ctx, cred.UserID, token, now.Add(s.cfg.EmailTokenTTL), now,
			s.verificationEmailEvent(cred.Email, cred.FullName, token, now))
		if err != nil {
			return err
		}
	case ChannelPhone:
		if cred.PhoneNumber == "" {
			return fmt.Errorf("%w: no phone number on file", domain.ErrInvalidInput)
		}
		if cred.PhoneVerified {
			return domain.ErrAlreadyVerified
		}
		code, err := randomDigits(6)
		if err != nil {
			return err
		}
		err = s.users.ResetPhoneCodeTx(ctx, cred.UserID, code, now.Add(s.cfg.PhoneCodeTTL), now,
			s.verificationSMSEvent(cred.PhoneNumber, cred.Email, code, now))
		if err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "verification resent",
		slog.String("operation", "resend_verification"),
		slog.String("user_id", cred.UserID.String()),
		slog.String("channel", channel),
		slog.String("outcome", "sent"),
	)
	return nil
}

func (s *Service) establishSession(ctx context.Context, cred domain.Credential, operation string) (AuthResult, error) {
	now := s.now().UTC()
	// Last-login is written before issuance so a signed token always implies
	// the recorded timestamp.
	if err := s.users.TouchLastLogin(ctx, cred.UserID, now); err != nil {
		return AuthResult{}, err
	}
	token, err := s.signer.Sign(ports.AuthClaims{
		UserID:        cred.UserID,
		Email:         cred.Email,
		Role:          cred.Role,
		EmailVerified: cred.EmailVerified,
		PhoneVerified: cred.PhoneVerified,
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("sign session token: %w", err)
	}
	s.logger.InfoContext(ctx, "session established",
		slog.String("operation", operation),
		slog.String("user_id", cred.UserID.String()),
		slog.String("outcome", "authenticated"),
	)
	last := now
	cred.LastLoginAt = &last
	return AuthResult{
		Token:     token,
		ExpiresIn: int64(s.signer.TTL().Seconds()),
		User:      userInfo(cred),
		// Sessions are issued before verification completes; the flag tells
		// the client which screen to show next.
		RequiresVerification: !cred.EmailVerified || (cred.PhoneNumber != "" && !cred.PhoneVerified),
	}, nil
}

func (s *Service) isLockedOut(ctx context.Context, email string) (bool, error) {
	n, err := s.lockout.Failures(ctx, lockoutID(email))
	if err != nil {
		return false, err
	}
	return n >= int64(s.cfg.LockoutThreshold), nil
}

// recordLoginFailure bumps the counter and always returns a login error. The
// returned value is byte-identical across unknown-email and wrong-password
// paths until the lockout threshold trips.
func (s *Service) recordLoginFailure(ctx context.Context, email string) error {
	n, err := s.lockout.RegisterFailure(ctx, lockoutID(email), s.cfg.LockoutWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "lockout counter unavailable",
			slog.String("operation", "login"),
			slog.String("error", err.Error()),
		)
		return domain.ErrInvalidCredentials
	}
	if n >= int64(s.cfg.LockoutThreshold) {
		s.logger.WarnContext(ctx, "account locked out",
			slog.String("operation", "login"),
			slog.String("outcome", "locked"),
		)
		return domain.ErrAccountLocked
	}
	return domain.ErrInvalidCredentials
}

func lockoutID(email string) string {
	return strings.ToLower(email)
}

func (s *Service) verificationEmailEvent(to, fullName, token string, now time.Time) ports.OutboxEvent {
	link := s.cfg.VerifyURLBase + "?token=" + token
	name := fullName
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Confirm your email address to activate your 241 Runners Awareness account:</p>"+
			"<p><a href=%q>Verify my email</a></p><p>The link expires in %d hours.</p>",
		html.EscapeString(name), link, int(s.cfg.EmailTokenTTL.Hours()),
	)
	return s.notifyEvent(ports.EventEmailVerification, to, mustJSON(ports.EmailPayload{
		To:       to,
		Subject:  "Verify your email address",
		HTMLBody: body,
	}), now)
}

func (s *Service) welcomeEmailEvent(to, fullName string, now time.Time) ports.OutboxEvent {
	name := fullName
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your email is confirmed and your 241 Runners Awareness account is ready.</p>",
		html.EscapeString(name),
	)
	return s.notifyEvent(ports.EventEmailWelcome, to, mustJSON(ports.EmailPayload{
		To:       to,
		Subject:  "Welcome to 241 Runners Awareness",
		HTMLBody: body,
	}), now)
}

func (s *Service) verificationSMSEvent(phone, partitionKey, code string, now time.Time) ports.OutboxEvent {
	body := fmt.Sprintf("Your 241 Runners Awareness verification code is %s. It expires in %d minutes.",
		code, int(s.cfg.PhoneCodeTTL.Minutes()))
	return s.notifyEvent(ports.EventSMSVerification, partitionKey, mustJSON(ports.SMSPayload{
		To:   phone,
		Body: body,
	}), now)
}

func (s *Service) notifyEvent(eventType, partitionKey string, payload []byte, now time.Time) ports.OutboxEvent {
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		OccurredAt:   now,
	}
}

func (s *Service) domainEvent(eventType, partitionKey string, fields map[string]any, now time.Time) ports.OutboxEvent {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["occurredAt"] = now.Format(time.RFC3339)
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      mustJSON(fields),
		OccurredAt:   now,
	}
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func randomDigits(n int) (string, error) {
	// 250 is the largest multiple of 10 below 256; bytes at or above it are
	// discarded so every digit is equally likely.
	const cutoff = 250
	out := make([]byte, 0, n)
	buf := make([]byte, 2*n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= cutoff {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
