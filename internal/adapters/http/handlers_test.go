package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/application"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

type memUsers struct {
	mu    sync.Mutex
	creds map[uuid.UUID]domain.Credential
}

func newMemUsers() *memUsers { return &memUsers{creds: map[uuid.UUID]domain.Credential{}} }

func (m *memUsers) CreateWithOutboxTx(_ context.Context, p ports.CreateCredentialParams, _ []ports.OutboxEvent) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.Email == p.Email || c.Username == p.Username {
			return domain.Credential{}, domain.ErrConflict
		}
	}
	cred := domain.Credential{
		UserID:              uuid.New(),
		Email:               p.Email,
		Username:            p.Username,
		PasswordHash:        p.PasswordHash,
		FullName:            p.FullName,
		PhoneNumber:         p.PhoneNumber,
		Role:                p.Role,
		Profile:             p.Profile,
		EmailVerified:       p.EmailVerified,
		EmailToken:          p.EmailToken,
		EmailTokenExpiresAt: p.EmailTokenExpiresAt,
		PhoneCode:           p.PhoneCode,
		PhoneCodeExpiresAt:  p.PhoneCodeExpiresAt,
		IsActive:            true,
		CreatedAt:           p.RegisteredAtUTC,
	}
	m.creds[cred.UserID] = cred
	return cred, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.Email == email {
			return c, nil
		}
	}
	return domain.Credential{}, domain.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[id]
	c.LastLoginAt = &at
	m.creds[id] = c
	return nil
}

func (m *memUsers) ResetEmailTokenTx(_ context.Context, id uuid.UUID, token string, expiresAt, _ time.Time, _ ports.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[id]
	c.EmailToken = &token
	c.EmailTokenExpiresAt = &expiresAt
	m.creds[id] = c
	return nil
}

func (m *memUsers) ResetPhoneCodeTx(_ context.Context, id uuid.UUID, code string, expiresAt, _ time.Time, _ ports.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[id]
	c.PhoneCode = &code
	c.PhoneCodeExpiresAt = &expiresAt
	m.creds[id] = c
	return nil
}

func (m *memUsers) ConsumeEmailTokenTx(_ context.Context, token string, at time.Time, events func(domain.Credential) []ports.OutboxEvent) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.creds {
		if c.EmailToken != nil && *c.EmailToken == token {
			if c.EmailTokenExpiresAt == nil || at.After(*c.EmailTokenExpiresAt) {
				return domain.Credential{}, domain.ErrTokenExpired
			}
			c.EmailVerified = true
			c.EmailToken = nil
			c.EmailTokenExpiresAt = nil
			m.creds[id] = c
			if events != nil {
				events(c)
			}
			return c, nil
		}
	}
	return domain.Credential{}, domain.ErrTokenInvalid
}

func (m *memUsers) ConsumePhoneCodeTx(_ context.Context, code string, at time.Time, events func(domain.Credential) []ports.OutboxEvent) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.creds {
		if c.PhoneCode != nil && *c.PhoneCode == code {
			if c.PhoneCodeExpiresAt == nil || at.After(*c.PhoneCodeExpiresAt) {
				return domain.Credential{}, domain.ErrTokenExpired
			}
			c.PhoneVerified = true
			c.PhoneCode = nil
			c.PhoneCodeExpiresAt = nil
			m.creds[id] = c
			if events != nil {
				events(c)
			}
			return c, nil
		}
	}
	return domain.Credential{}, domain.ErrTokenInvalid
}

func (m *memUsers) SetTwoFactorPending(_ context.Context, id uuid.UUID, secret, backupCodes string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[id]
	c.TwoFactorSecret = &secret
	c.BackupCodes = &backupCodes
	m.creds[id] = c
	return nil
}

func (m *memUsers) EnableTwoFactor(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[id]
	c.TwoFactorEnabled = true
	c.TwoFactorSetupDate = &at
	m.creds[id] = c
	return nil
}

func (m *memUsers) DisableTwoFactor(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[id]
	c.TwoFactorEnabled = false
	c.TwoFactorSecret = nil
	c.BackupCodes = nil
	c.TwoFactorSetupDate = nil
	m.creds[id] = c
	return nil
}

func (m *memUsers) ReplaceBackupCodes(_ context.Context, id uuid.UUID, previous, next string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[id]
	if c.BackupCodes == nil || *c.BackupCodes != previous {
		return domain.ErrConflict
	}
	c.BackupCodes = &next
	m.creds[id] = c
	return nil
}

func (m *memUsers) TwoFactorStatus(_ context.Context, email string) (ports.TwoFactorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if strings.EqualFold(c.Email, email) {
			return ports.TwoFactorState{
				Enabled:   c.TwoFactorEnabled,
				SetupDate: c.TwoFactorSetupDate,
				HasSecret: c.TwoFactorSecret != nil,
			}, nil
		}
	}
	return ports.TwoFactorState{}, domain.ErrNotFound
}

type memHasher struct{}

func (memHasher) Hash(password string) (string, error) { return "h:" + password, nil }

func (memHasher) Compare(hash, password string) error {
	if hash != "h:"+password {
		return domain.ErrInvalidCredentials
	}
	return nil
}

type memSigner struct{}

func (memSigner) Sign(claims ports.AuthClaims) (string, error) {
	return "bearer-for:" + claims.Email + ":" + claims.UserID.String(), nil
}

func (memSigner) ParseAndValidate(token string) (ports.AuthClaims, error) {
	rest, ok := strings.CutPrefix(token, "bearer-for:")
	if !ok {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	email, rawID, ok := strings.Cut(rest, ":")
	if !ok {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	return ports.AuthClaims{UserID: id, Email: email}, nil
}

func (memSigner) TTL() time.Duration { return time.Hour }

type memVerifier struct{}

func (memVerifier) Verify(context.Context, string) (ports.GoogleIdentity, error) {
	return ports.GoogleIdentity{}, domain.ErrUnauthorized
}

type memLockout struct{}

func (memLockout) RegisterFailure(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}
func (memLockout) Failures(context.Context, string) (int64, error) { return 0, nil }
func (memLockout) Clear(context.Context, string) error             { return nil }

type memThrottle struct{}

func (memThrottle) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

type webFixture struct {
	server *httptest.Server
	users  *memUsers
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := newMemUsers()
	svc := application.NewService(application.Config{}, users, memHasher{}, memSigner{}, memVerifier{}, memLockout{}, memThrottle{}, logger)
	handler := NewHandler(svc, memSigner{}, logger)
	router := NewRouter(handler, logger, []string{"*"}, func() error { return nil })
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &webFixture{server: server, users: users}
}

func (fx *webFixture) post(t *testing.T, path string, body any, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, fx.server.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func (fx *webFixture) register(t *testing.T, email string) domain.Credential {
	t.Helper()
	resp, _ := fx.post(t, "/api/auth/register", map[string]any{
		"email":    email,
		"username": strings.SplitN(email, "@", 2)[0],
		"password": "Secr3t!Pass",
		"fullName": "Alice Hart",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	cred, err := fx.users.GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("registered user missing: %v", err)
	}
	return cred
}

func (fx *webFixture) registerVerified(t *testing.T, email string) domain.Credential {
	t.Helper()
	cred := fx.register(t, email)
	resp, _ := fx.post(t, "/api/auth/verify-email", map[string]any{"token": *cred.EmailToken}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-email status = %d", resp.StatusCode)
	}
	cred, err := fx.users.GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("verified user missing: %v", err)
	}
	return cred
}

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	resp, body := fx.post(t, "/api/auth/register", map[string]any{
		"email":    "alice@example.com",
		"username": "alice",
		"password": "Secr3t!Pass",
		"fullName": "Alice Hart",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if body["success"] != true || body["requiresVerification"] != true {
		t.Fatalf("body = %v", body)
	}
	if body["token"] != nil {
		t.Fatalf("register must not issue a token: %v", body)
	}
	user, ok := body["user"].(map[string]any)
	if !ok || user["email"] != "alice@example.com" {
		t.Fatalf("user block = %v", body["user"])
	}
}

func TestRegisterEndpointRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	resp, body := fx.post(t, "/api/auth/register", map[string]any{
		"email":    "alice@example.com",
		"username": "alice",
		"password": "Secr3t!Pass",
		"isAdmin":  true,
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestRegisterEndpointDuplicate(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	fx.register(t, "alice@example.com")
	resp, _ := fx.post(t, "/api/auth/register", map[string]any{
		"email":    "alice@example.com",
		"username": "alice2",
		"password": "Secr3t!Pass",
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLoginEndpointFailureBodiesMatch(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	fx.registerVerified(t, "alice@example.com")

	respUnknown, bodyUnknown := fx.post(t, "/api/auth/login", map[string]any{
		"email": "nobody@example.com", "password": "Secr3t!Pass",
	}, "")
	respWrong, bodyWrong := fx.post(t, "/api/auth/login", map[string]any{
		"email": "alice@example.com", "password": "WrongPass1",
	}, "")
	if respUnknown.StatusCode != http.StatusBadRequest || respWrong.StatusCode != http.StatusBadRequest {
		t.Fatalf("statuses = %d / %d, want 400", respUnknown.StatusCode, respWrong.StatusCode)
	}
	if bodyUnknown["message"] != bodyWrong["message"] {
		t.Fatalf("failure bodies differ: %v vs %v", bodyUnknown, bodyWrong)
	}
	if bodyUnknown["message"] != "invalid email or password" {
		t.Fatalf("message = %v", bodyUnknown["message"])
	}
}

func TestLoginEndpointIssuesSession(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	fx.registerVerified(t, "alice@example.com")
	resp, body := fx.post(t, "/api/auth/login", map[string]any{
		"email": "alice@example.com", "password": "Secr3t!Pass",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("no token in body: %v", body)
	}
	if body["expiresIn"] != float64(3600) {
		t.Fatalf("expiresIn = %v", body["expiresIn"])
	}
}

func TestLoginEndpointBeforeVerification(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	fx.register(t, "alice@example.com")
	resp, body := fx.post(t, "/api/auth/login", map[string]any{
		"email": "alice@example.com", "password": "Secr3t!Pass",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("no token in body: %v", body)
	}
	if body["requiresVerification"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestVerifyEmailEndpointTokenStates(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	cred := fx.register(t, "alice@example.com")
	token := *cred.EmailToken

	resp, body := fx.post(t, "/api/auth/verify-email", map[string]any{"token": token}, "")
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("first verify: status=%d body=%v", resp.StatusCode, body)
	}
	resp, body = fx.post(t, "/api/auth/verify-email", map[string]any{"token": token}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("replayed token status = %d, want 400", resp.StatusCode)
	}
	if body["message"] != "invalid verification token" {
		t.Fatalf("replayed token message = %v", body["message"])
	}
}

func TestTwoFactorEndpointsRequireBearer(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	for _, path := range []string{"/2fa/setup", "/2fa/enable", "/2fa/disable"} {
		resp, _ := fx.post(t, "/api/auth"+path, map[string]any{"email": "a@example.com"}, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestTwoFactorSetupEndpoint(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	cred := fx.registerVerified(t, "alice@example.com")
	bearer := "bearer-for:" + cred.Email + ":" + cred.UserID.String()

	resp, body := fx.post(t, "/api/auth/2fa/setup", map[string]any{"email": cred.Email}, bearer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	secret, _ := body["secret"].(string)
	qr, _ := body["qrCodeUrl"].(string)
	if secret == "" || !strings.HasPrefix(qr, "otpauth://totp/") {
		t.Fatalf("setup body = %v", body)
	}
	codes, ok := body["backupCodes"].([]any)
	if !ok || len(codes) != 10 {
		t.Fatalf("backupCodes = %v", body["backupCodes"])
	}
}

func TestTwoFactorStatusEndpoint(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	cred := fx.registerVerified(t, "alice@example.com")
	bearer := "bearer-for:" + cred.Email + ":" + cred.UserID.String()

	req, err := http.NewRequest(http.MethodGet, fx.server.URL+"/api/auth/2fa/status/"+cred.Email, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["twoFactorEnabled"] != false || body["hasSecret"] != false {
		t.Fatalf("status body = %v", body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	fx := newWebFixture(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(fx.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
	}
}
