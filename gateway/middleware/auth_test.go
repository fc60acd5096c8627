package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func echoAccount() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(account.String()))
	})
}

func TestAuthDisabledUsesAccountHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	handler := auth.Middleware("tx")(echoAccount())

	req := httptest.NewRequest(http.MethodPost, "/v1/tx", nil)
	req.Header.Set(HeaderAccountID, "alice")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || res.Body.String() != "alice" {
		t.Fatalf("unexpected response %d %q", res.Code, res.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/tx", nil)
	req.Header.Set(HeaderAccountID, "Not An Account")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid header, got %d", res.Code)
	}
}

func TestAuthEnabledValidatesToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: "top-secret",
		Issuer:     "vault-ops",
		Audience:   []string{"vaultd"},
	}, nil)
	handler := auth.Middleware("tx")(echoAccount())

	token, err := auth.IssueToken("alice", []string{"tx", "read"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/tx", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || res.Body.String() != "alice" {
		t.Fatalf("unexpected response %d %q", res.Code, res.Body.String())
	}

	// The header is ignored once tokens are required.
	req = httptest.NewRequest(http.MethodPost, "/v1/tx", nil)
	req.Header.Set(HeaderAccountID, "alice")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", res.Code)
	}
}

func TestAuthRejectsMissingScope(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "top-secret"}, nil)
	handler := auth.Middleware("tx")(echoAccount())

	token, err := auth.IssueToken("alice", []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/tx", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "top-secret", Issuer: "vault-ops", ClockSkew: time.Second}, nil)
	handler := auth.Middleware()(echoAccount())

	sign := func(secret string, claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}
	cases := map[string]string{
		"wrong secret": sign("other", jwt.MapClaims{"sub": "alice", "iss": "vault-ops"}),
		"expired":      sign("top-secret", jwt.MapClaims{"sub": "alice", "iss": "vault-ops", "exp": time.Now().Add(-time.Hour).Unix()}),
		"issuer":       sign("top-secret", jwt.MapClaims{"sub": "alice", "iss": "someone-else"}),
		"subject":      sign("top-secret", jwt.MapClaims{"sub": "NOT VALID", "iss": "vault-ops"}),
		"garbage":      "not-a-jwt",
	}
	for name, token := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/tx", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, res.Code)
		}
	}
}

func TestExtractBearer(t *testing.T) {
	if got := extractBearer("bearer abc"); got != "abc" {
		t.Fatalf("unexpected token %q", got)
	}
	if got := extractBearer("Basic abc"); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
