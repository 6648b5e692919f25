package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bugrelay/auth-service/internal/repository"
	"github.com/bugrelay/auth-service/internal/security"
	"github.com/bugrelay/auth-service/internal/service"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// ServiceError maps the auth error taxonomy to the wire. Token failures
// of every flavor collapse into one generic 401 so callers cannot probe
// which check failed.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTokenRevoked):
		Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrWrongAuthMethod):
		Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, service.ErrMFACodeInvalid):
		Error(w, r, http.StatusUnauthorized, "MFA_CODE_INVALID", "verification code rejected", nil)
	case errors.Is(err, service.ErrTooManyMFAAttempts):
		Error(w, r, http.StatusTooManyRequests, "MFA_RATE_LIMITED", "too many verification attempts", nil)
	case errors.Is(err, service.ErrIdentityConflict):
		Error(w, r, http.StatusConflict, "IDENTITY_ALREADY_LINKED", "account cannot be linked", nil)
	case errors.Is(err, service.ErrEmailTaken):
		Error(w, r, http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
	case errors.Is(err, service.ErrStateMismatch):
		Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "oauth state mismatch", nil)
	case errors.Is(err, security.ErrWeakPassword):
		Error(w, r, http.StatusBadRequest, "WEAK_PASSWORD", "password does not meet strength requirements", nil)
	case errors.Is(err, repository.ErrSessionNotFound):
		Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
	case errors.Is(err, service.ErrUnsupportedProvider):
		Error(w, r, http.StatusNotFound, "UNSUPPORTED_PROVIDER", "unknown oauth provider", nil)
	case errors.Is(err, service.ErrServiceUnavailable):
		Error(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "authentication backend unavailable", nil)
	default:
		Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
