package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "market-hmac-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(caller.Hex()))
	})
}

func TestAuthenticatorBearerSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "dropmarket",
		Audience:   "market-api",
	}, nil)
	handler := auth.Middleware(callerEcho())
	now := time.Now()

	valid := jwt.RegisteredClaims{
		Subject:   producer.Hex(),
		Issuer:    "dropmarket",
		Audience:  jwt.ClaimStrings{"market-api"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + signToken(t, testSecret, valid), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", valid), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + signToken(t, testSecret, func() jwt.RegisteredClaims {
			c := valid
			c.Audience = jwt.ClaimStrings{"other"}
			return c
		}()), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, testSecret, func() jwt.RegisteredClaims {
			c := valid
			c.Issuer = "someone"
			return c
		}()), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, func() jwt.RegisteredClaims {
			c := valid
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
			return c
		}()), http.StatusUnauthorized},
		{"subject not an address", "Bearer " + signToken(t, testSecret, func() jwt.RegisteredClaims {
			c := valid
			c.Subject = "alice"
			return c
		}()), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status == http.StatusOK {
				require.Equal(t, producer.Hex(), rec.Body.String())
			}
		})
	}
}

func TestAuthenticatorIgnoresCallerHeaderWhenEnabled(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/admin", nil)
	req.Header.Set(CallerHeader, owner.Hex())
	rec := httptest.NewRecorder()
	auth.Middleware(callerEcho()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorDisabledUsesHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	handler := auth.Middleware(callerEcho())

	req := httptest.NewRequest(http.MethodGet, "/v1/admin", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/admin", nil)
	req.Header.Set(CallerHeader, buyer.Hex())
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, buyer.Hex(), rec.Body.String())
}

func TestBearerTokenDrivesMutations(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{Enabled: true, HMACSecret: testSecret})
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   owner.Hex(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/fee", jsonBody(t, map[string]any{"feeBps": 300}))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(300), h.op.Admin().FeeBps)

	require.Equal(t, http.StatusUnauthorized, h.do(http.MethodPut, "/v1/admin/fee", addr(owner), map[string]any{"feeBps": 400}).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", nil, nil).Code)
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}
