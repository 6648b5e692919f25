package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/http/middleware"
	"github.com/bugrelay/auth-service/internal/http/response"
	"github.com/bugrelay/auth-service/internal/service"
)

// AuthHandler is the transport shim over the auth orchestrator. It owns
// request decoding and response shaping, nothing else.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaVerifyRequest struct {
	PendingToken string `json:"pending_token"`
	Method       string `json:"method"`
	Code         string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type authResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	SessionID    string       `json:"session_id"`
}

type mfaChallengeResponse struct {
	MFARequired  bool   `json:"mfa_required"`
	PendingToken string `json:"pending_token"`
	Method       string `json:"method"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "email, password and display_name are required", nil)
		return
	}
	result, err := h.auth.Register(r.Context(), req.Email, req.Password, req.DisplayName, clientInfo(r))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	writeLoginResult(w, r, http.StatusCreated, result)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "email and password are required", nil)
		return
	}
	result, err := h.auth.LoginPassword(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	writeLoginResult(w, r, http.StatusOK, result)
}

func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PendingToken == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "pending_token and code are required", nil)
		return
	}
	result, err := h.auth.CompleteMFA(r.Context(), req.PendingToken, req.Method, req.Code, clientInfo(r))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	writeLoginResult(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "refresh_token is required", nil)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    expiresIn(pair),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	if err := h.auth.Logout(r.Context(), claims, clientInfo(r)); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	if err := h.auth.LogoutAll(r.Context(), claims.Subject, clientInfo(r)); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out_everywhere"})
}

// RequestPasswordReset answers identically whether or not the address
// is registered.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "email is required", nil)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email, clientInfo(r)); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{
		"status": "if the email is registered, a reset link has been sent",
	})
}

func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "token and new_password are required", nil)
		return
	}
	if err := h.auth.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword, clientInfo(r)); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset"})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "verification token is required", nil)
		return
	}
	if err := h.auth.VerifyEmail(r.Context(), token); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "email_verified"})
}

func writeLoginResult(w http.ResponseWriter, r *http.Request, status int, result *service.LoginResult) {
	if result.MFARequired {
		response.JSON(w, r, http.StatusOK, mfaChallengeResponse{
			MFARequired:  true,
			PendingToken: result.PendingToken,
			Method:       result.MFAMethod,
		})
		return
	}
	response.JSON(w, r, status, authResponse{
		User:         result.User,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(result.Tokens),
		SessionID:    result.Session.ID,
	})
}

func expiresIn(pair *service.TokenPair) int64 {
	return int64(time.Until(pair.AccessClaims.ExpiresAt.Time).Round(time.Second).Seconds())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return false
	}
	return true
}

func clientInfo(r *http.Request) service.ClientInfo {
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i > 0 && strings.Count(ip, ":") == 1 {
		ip = ip[:i]
	}
	return service.ClientInfo{UserAgent: r.UserAgent(), IP: ip}
}
