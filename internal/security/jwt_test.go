package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec() *TokenCodec {
	return NewTokenCodec("0123456789abcdef0123456789abcdef", "bugrelay", "bugrelay-users")
}

func TestCodecRoundTrip(t *testing.T) {
	codec := newTestCodec()
	claims := codec.NewClaims("user-1", "a@example.com", true, KindAccess, "sess-1", time.Minute)

	raw, err := codec.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := codec.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Subject != "user-1" || got.Email != "a@example.com" || !got.IsAdmin {
		t.Fatalf("claims mismatch: %+v", got)
	}
	if got.Kind != KindAccess || got.SessionID != "sess-1" {
		t.Fatalf("kind/sid mismatch: %+v", got)
	}
	if got.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestCodecDistinctTokenIDs(t *testing.T) {
	codec := newTestCodec()
	a := codec.NewClaims("u", "", false, KindAccess, "s", time.Minute)
	b := codec.NewClaims("u", "", false, KindRefresh, "s", time.Minute)
	if a.ID == b.ID {
		t.Fatal("two claim sets must never share a token id")
	}
}

func TestCodecExpired(t *testing.T) {
	codec := newTestCodec()
	claims := codec.NewClaims("u", "", false, KindAccess, "", -time.Minute)
	raw, err := codec.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestCodecWrongKey(t *testing.T) {
	codec := newTestCodec()
	other := NewTokenCodec("ffffffffffffffffffffffffffffffff", "bugrelay", "bugrelay-users")
	raw, err := other.Sign(other.NewClaims("u", "", false, KindAccess, "", time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestCodecRejectsWrongIssuerAndAudience(t *testing.T) {
	codec := newTestCodec()
	foreign := NewTokenCodec("0123456789abcdef0123456789abcdef", "someone-else", "their-users")
	raw, err := foreign.Sign(foreign.NewClaims("u", "", false, KindAccess, "", time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestCodecRejectsNonHS256(t *testing.T) {
	codec := newTestCodec()
	claims := codec.NewClaims("u", "", false, KindAccess, "", time.Minute)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if _, err := codec.Verify(raw); err == nil {
		t.Fatal("expected rejection of non-HS256 token")
	}
}

func TestCodecMalformed(t *testing.T) {
	codec := newTestCodec()
	for _, raw := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := codec.Verify(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Verify(%q) = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestCodecTamperedPayload(t *testing.T) {
	codec := newTestCodec()
	raw, err := codec.Sign(codec.NewClaims("u", "", false, KindAccess, "", time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parts := strings.Split(raw, ".")
	parts[1] = "eyJmYWtlIjoicGF5bG9hZCJ9"
	if _, err := codec.Verify(strings.Join(parts, ".")); err == nil {
		t.Fatal("expected verification failure for tampered payload")
	}
}

func TestCodecRejectsMissingSubject(t *testing.T) {
	codec := newTestCodec()
	claims := codec.NewClaims("", "", false, KindAccess, "", time.Minute)
	raw, err := codec.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty subject, got %v", err)
	}
}
