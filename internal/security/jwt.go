package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind tags the closed claim set so tokens minted for one purpose
// can never be coerced into another by a missing field.
type TokenKind string

const (
	KindAccess        TokenKind = "access"
	KindRefresh       TokenKind = "refresh"
	KindPendingMFA    TokenKind = "pending_mfa"
	KindPasswordReset TokenKind = "password_reset"
	KindEmailVerify   TokenKind = "email_verify"
)

// Codec verification failures. Callers collapse all of these into a
// generic "invalid token" externally; the distinction exists for logging
// and tests only.
var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
	ErrNotYetValid  = errors.New("token not yet valid")
)

// Claims is the versioned claim set for every token this service signs.
// SessionID ties access and refresh tokens back to the session registry
// record that owns their rotation chain; pending-MFA tokens have none.
type Claims struct {
	Email     string    `json:"email,omitempty"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	Kind      TokenKind `json:"token_kind"`
	SessionID string    `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies claim sets with a single symmetric key.
// It is pure: no side effects, deterministic for a fixed secret and clock.
type TokenCodec struct {
	secret   []byte
	issuer   string
	audience string
}

func NewTokenCodec(secret, issuer, audience string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), issuer: issuer, audience: audience}
}

// NewClaims assembles a claim set for one token with a fresh unique id.
func (c *TokenCodec) NewClaims(userID, email string, isAdmin bool, kind TokenKind, sessionID string, ttl time.Duration) *Claims {
	now := time.Now()
	return &Claims{
		Email:     email,
		IsAdmin:   isAdmin,
		Kind:      kind,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    c.issuer,
			Audience:  []string{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (c *TokenCodec) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify parses and authenticates a token string. Only HS256 is accepted;
// a token carrying any other algorithm fails with ErrBadSignature even if
// it would otherwise validate.
func (c *TokenCodec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrBadSignature
		}
		return c.secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithAudience(c.audience))
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.ID == "" || claims.Subject == "" || claims.Kind == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrBadSignature),
		errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrBadSignature
	default:
		return ErrMalformed
	}
}
