package api

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken("  "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenMalformed(t *testing.T) {
	for _, raw := range []string{
		"Basic abc.def.ghi",
		"Bearer ",
		"Bearer " + strings.Repeat(".", 1000),
		"Bearer only.one",
	} {
		if _, err := bearerToken(raw); err == nil || err.Error() != "bad auth header" {
			t.Fatalf("%q: expected bad auth header error, got %v", raw, err)
		}
	}
}

func TestAuthHeaderFallsBackToQueryToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/stream?token=a.b.c", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if got := authHeader(c); got != "Bearer a.b.c" {
		t.Fatalf("unexpected header: %q", got)
	}

	req = httptest.NewRequest("GET", "/stream?token=a.b.c", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	c = e.NewContext(req, httptest.NewRecorder())
	if got := authHeader(c); got != "Bearer x.y.z" {
		t.Fatalf("header should win over query, got %q", got)
	}
}

func TestUserIDFromBearerHS256(t *testing.T) {
	signed := signToken(t, validClaims("user-123"))
	auth := NewTestAuth(testSecret, "api://aud", "https://issuer/")

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromBearerRejectsInvalidTokens(t *testing.T) {
	auth := NewTestAuth(testSecret, "api://aud", "https://issuer/")

	expired := validClaims("user-123")
	expired["exp"] = time.Now().Add(-5 * time.Minute).Unix()

	wrongAudience := validClaims("user-123")
	wrongAudience["aud"] = "api://other"

	wrongIssuer := validClaims("user-123")
	wrongIssuer["iss"] = "https://elsewhere/"

	noSubject := validClaims("")

	cases := map[string]string{
		"expired":  signToken(t, expired),
		"audience": signToken(t, wrongAudience),
		"issuer":   signToken(t, wrongIssuer),
		"subject":  signToken(t, noSubject),
	}
	for name, token := range cases {
		if _, err := auth.UserIDFromBearer(token); err == nil {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user-123"))
	signed, err := other.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.UserIDFromBearer(signed); err == nil {
		t.Fatalf("expected signature mismatch to be rejected")
	}
}

func TestZeroAuthRejectsTokens(t *testing.T) {
	signed := signToken(t, validClaims("user-123"))
	var auth Auth
	if _, err := auth.UserIDFromBearer(signed); !errors.Is(err, errAuthNotConfigured) {
		t.Fatalf("expected errAuthNotConfigured, got %v", err)
	}
	if auth.parser != nil {
		t.Fatalf("parser must only be built by the constructors")
	}
}

func TestKeyForTokenWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "", "", time.Minute)
	if _, err := auth.keyForToken(&jwt.Token{Header: map[string]any{"kid": "k1"}}); err == nil {
		t.Fatalf("expected error without jwks")
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	signed, err := SignTestToken(testSecret, "user-9", "api://aud", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	userID, err := NewTestAuth(testSecret, "api://aud", "").UserIDFromBearer(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-9" {
		t.Fatalf("unexpected user id: %s", userID)
	}
	if _, err := SignTestToken(nil, "user-9", "", time.Hour); err == nil {
		t.Fatalf("expected error without secret")
	}
}
