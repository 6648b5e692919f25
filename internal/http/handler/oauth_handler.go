package handler

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bugrelay/auth-service/internal/http/middleware"
	"github.com/bugrelay/auth-service/internal/http/response"
	"github.com/bugrelay/auth-service/internal/observability"
	"github.com/bugrelay/auth-service/internal/service"
)

const stateCookieName = "oauth_state"

// OAuthHandler runs the browser-facing half of the OAuth handshake. The
// anti-forgery state lives in a short-lived cookie pinned to the client
// that initiated the flow.
type OAuthHandler struct {
	auth         *service.AuthService
	logger       *slog.Logger
	secureCookie bool
}

func NewOAuthHandler(auth *service.AuthService, logger *slog.Logger, secureCookie bool) *OAuthHandler {
	return &OAuthHandler{auth: auth, logger: logger, secureCookie: secureCookie}
}

func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.auth.SupportedProvider(provider) {
		response.ServiceError(w, r, service.ErrUnsupportedProvider)
		return
	}
	authorizeURL, state, err := h.auth.OAuthBegin(r.Context(), provider)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/v1/auth/oauth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, r, http.StatusOK, map[string]string{
		"authorize_url": authorizeURL,
		"state":         state,
	})
}

// Callback verifies state strictly before anything touches the provider
// or a principal record: a mismatch is a hard 401 with no further work.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.auth.SupportedProvider(provider) {
		response.ServiceError(w, r, service.ErrUnsupportedProvider)
		return
	}

	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		observability.Audit(r.Context(), "oauth_state_mismatch", "provider", provider, "ip", clientInfo(r).IP)
		response.ServiceError(w, r, service.ErrStateMismatch)
		return
	}
	h.clearStateCookie(w)

	code := r.URL.Query().Get("code")
	if code == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "missing authorization code", nil)
		return
	}
	result, err := h.auth.OAuthCallback(r.Context(), provider, code, clientInfo(r))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	writeLoginResult(w, r, http.StatusOK, result)
}

type linkRequest struct {
	Code string `json:"code"`
}

// Link attaches a provider identity to the already-authenticated
// principal. The bearer token is the proof of account ownership, so no
// state cookie is involved; the client completes the provider handshake
// itself and posts the authorization code.
func (h *OAuthHandler) Link(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	provider := chi.URLParam(r, "provider")
	if !h.auth.SupportedProvider(provider) {
		response.ServiceError(w, r, service.ErrUnsupportedProvider)
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "authorization code is required", nil)
		return
	}
	user, err := h.auth.LinkProvider(r.Context(), claims.Subject, provider, req.Code, clientInfo(r))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"user": user, "provider": provider})
}

func (h *OAuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/api/v1/auth/oauth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
