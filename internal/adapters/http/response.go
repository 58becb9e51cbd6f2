package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/application"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
)

// envelope is the uniform response body. Optional fields stay absent rather
// than null so clients can gate on presence.
type envelope struct {
	Success              bool                  `json:"success"`
	Message              string                `json:"message"`
	Token                string                `json:"token,omitempty"`
	ExpiresIn            int64                 `json:"expiresIn,omitempty"`
	User                 *application.UserInfo `json:"user,omitempty"`
	RequiresVerification bool                  `json:"requiresVerification,omitempty"`
	RequiresTwoFactor    bool                  `json:"requiresTwoFactor,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, envelope{Success: success, Message: message})
}

// writeAuthResult renders an authentication outcome: either a pending-2FA
// challenge or an issued session, with requiresVerification flagging contact
// checks the holder still owes.
func writeAuthResult(w http.ResponseWriter, res application.AuthResult, sessionMessage string) {
	user := res.User
	if res.RequiresTwoFactor {
		writeJSON(w, http.StatusOK, envelope{
			Success:           true,
			Message:           "two-factor code required",
			User:              &user,
			RequiresTwoFactor: true,
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success:              true,
		Message:              sessionMessage,
		Token:                res.Token,
		ExpiresIn:            res.ExpiresIn,
		User:                 &user,
		RequiresVerification: res.RequiresVerification,
	})
}

// writeError maps domain failures onto statuses. Unrecognized errors become an
// opaque 500 so internals never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInvalidCredentials):
		status, message = http.StatusBadRequest, domain.ErrInvalidCredentials.Error()
	case errors.Is(err, domain.ErrAccountLocked):
		status, message = http.StatusLocked, domain.ErrAccountLocked.Error()
	case errors.Is(err, domain.ErrTwoFactorCode):
		status, message = http.StatusBadRequest, domain.ErrTwoFactorCode.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status, message = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrTokenExpired):
		status, message = http.StatusBadRequest, domain.ErrTokenExpired.Error()
	case errors.Is(err, domain.ErrTokenInvalid):
		status, message = http.StatusBadRequest, domain.ErrTokenInvalid.Error()
	case errors.Is(err, domain.ErrAlreadyVerified):
		status, message = http.StatusBadRequest, domain.ErrAlreadyVerified.Error()
	case errors.Is(err, domain.ErrTwoFactorEnabled):
		status, message = http.StatusBadRequest, domain.ErrTwoFactorEnabled.Error()
	case errors.Is(err, domain.ErrTwoFactorNotReady):
		status, message = http.StatusBadRequest, domain.ErrTwoFactorNotReady.Error()
	case errors.Is(err, domain.ErrConflict):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		status, message = http.StatusTooManyRequests, domain.ErrRateLimited.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	default:
		logger.ErrorContext(r.Context(), "unhandled request error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeMessage(w, status, false, message)
}
