// Package http exposes the authentication workflows over REST. Paths live
// under /api/auth and every response uses the shared success/message envelope.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/application"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

const maxBodyBytes = 1 << 20

// Handler adapts the application service to HTTP.
type Handler struct {
	svc    *application.Service
	signer ports.TokenSigner
	logger *slog.Logger
}

func NewHandler(svc *application.Service, signer ports.TokenSigner, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, signer: signer, logger: logger.With(slog.String("layer", "http"))}
}

// decodeBody rejects unknown fields and trailing content so malformed clients
// fail loudly instead of half-working.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected trailing content", domain.ErrInvalidInput)
	}
	return nil
}

type registerRequest struct {
	Email       string             `json:"email"`
	Username    string             `json:"username"`
	Password    string             `json:"password"`
	FullName    string             `json:"fullName"`
	PhoneNumber string             `json:"phoneNumber"`
	Role        string             `json:"role"`
	Profile     domain.RoleProfile `json:"profile"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.Register(r.Context(), application.RegisterRequest{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		Role:        req.Role,
		Profile:     req.Profile,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user := res.User
	writeJSON(w, http.StatusCreated, envelope{
		Success:              true,
		Message:              "registration accepted, please verify your email",
		User:                 &user,
		RequiresVerification: true,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeAuthResult(w, res, "login successful")
}

type googleLoginRequest struct {
	IDToken string `json:"idToken"`
}

func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.GoogleLogin(r.Context(), req.IDToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeAuthResult(w, res, "login successful")
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.svc.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "email verified", User: &user})
}

type verifyPhoneRequest struct {
	Code string `json:"code"`
}

func (h *Handler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req verifyPhoneRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.svc.VerifyPhone(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "phone verified", User: &user})
}

type resendRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	channel := req.Type
	if channel == "" {
		channel = application.ChannelEmail
	}
	if err := h.svc.ResendVerification(r.Context(), req.Email, channel); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, true, "verification sent if the account exists")
}

type twoFactorRequest struct {
	Email string `json:"email"`
	Code  string `json:"totp"`
}

type twoFactorSetupResponse struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	Secret      string   `json:"secret"`
	QRCodeURL   string   `json:"qrCodeUrl"`
	BackupCodes []string `json:"backupCodes"`
}

func (h *Handler) TwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var req twoFactorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	setup, err := h.svc.SetupTwoFactor(r.Context(), claims, req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorSetupResponse{
		Success:     true,
		Message:     "scan the code and confirm to enable",
		Secret:      setup.Secret,
		QRCodeURL:   setup.ProvisionURI,
		BackupCodes: setup.BackupCodes,
	})
}

func (h *Handler) TwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var req twoFactorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.EnableTwoFactor(r.Context(), claims, req.Email, req.Code); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, true, "two-factor authentication enabled")
}

func (h *Handler) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var req twoFactorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.DisableTwoFactor(r.Context(), claims, req.Email, req.Code); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, true, "two-factor authentication disabled")
}

func (h *Handler) TwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.VerifyTwoFactor(r.Context(), req.Email, req.Code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeAuthResult(w, res, "login successful")
}

type twoFactorStatusResponse struct {
	Success          bool       `json:"success"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	SetupDate        *time.Time `json:"twoFactorSetupDate,omitempty"`
	HasSecret        bool       `json:"hasSecret"`
}

func (h *Handler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	status, err := h.svc.TwoFactorStatus(r.Context(), claims, chi.URLParam(r, "email"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, r, h.logger, domain.ErrUnauthorized)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorStatusResponse{
		Success:          true,
		TwoFactorEnabled: status.Enabled,
		SetupDate:        status.SetupDate,
		HasSecret:        status.HasSecret,
	})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
