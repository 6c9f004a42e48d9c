// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/pkg/errutil"
)

// provider is a fake OAuth provider. Token requests with code "good"
// succeed; "expired" is rejected with rejectCode.
type provider struct {
	idToken    string
	rejectCode string
	// rejectOK makes rejections use status 200, like GitHub.
	rejectOK bool
	tokenFail bool

	userInfo map[string]any
	user     map[string]any
	emails   []map[string]any
}

func (p *provider) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if p.tokenFail {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "temporarily_unavailable"})
			return
		}
		if r.Form.Get("code") != "good" {
			status := http.StatusBadRequest
			if p.rejectOK {
				status = http.StatusOK
			}
			writeJSON(w, status, map[string]any{"error": p.rejectCode})
			return
		}
		body := map[string]any{"access_token": "at-123", "token_type": "Bearer", "expires_in": 3600}
		if p.idToken != "" {
			body["id_token"] = p.idToken
		}
		writeJSON(w, http.StatusOK, body)
	})
	authed := func(h func(w http.ResponseWriter)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer at-123" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "bad credentials"})
				return
			}
			h(w)
		}
	}
	mux.HandleFunc("/userinfo", authed(func(w http.ResponseWriter) { writeJSON(w, http.StatusOK, p.userInfo) }))
	mux.HandleFunc("/user", authed(func(w http.ResponseWriter) { writeJSON(w, http.StatusOK, p.user) }))
	mux.HandleFunc("/user/emails", authed(func(w http.ResponseWriter) { writeJSON(w, http.StatusOK, p.emails) }))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// idToken signs claims, adding an expiry an hour out when none is given.
func idToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	return signToken(t, claims)
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func googleFor(t *testing.T, srv *httptest.Server) *Google {
	t.Helper()
	g, err := NewGoogle(Config{
		ClientID:     "client-1",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		APIURL:       srv.URL + "/userinfo",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return g
}

func githubFor(t *testing.T, srv *httptest.Server) *GitHub {
	t.Helper()
	g, err := NewGitHub(Config{
		ClientID:     "client-2",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		APIURL:       srv.URL,
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return g
}

func TestGoogle_IdentityFromIDToken(t *testing.T) {
	p := &provider{idToken: idToken(t, jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            "client-1",
		"email":          "ada@example.com",
		"email_verified": true,
		"given_name":     "Ada",
		"family_name":    "Lovelace",
	})}
	g := googleFor(t, p.serve(t))

	id, err := g.ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, auth.Identity{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"}, *id)
}

func TestGoogle_FallsBackToUserInfo(t *testing.T) {
	p := &provider{userInfo: map[string]any{
		"email":          "grace@example.com",
		"email_verified": "true",
		"given_name":     "Grace",
	}}
	g := googleFor(t, p.serve(t))

	id, err := g.ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "grace@example.com", id.Email)
	assert.Equal(t, "Grace", id.FirstName)
}

func TestGoogle_UnverifiedEmailYieldsNoIdentity(t *testing.T) {
	p := &provider{idToken: idToken(t, jwt.MapClaims{
		"iss":            "accounts.google.com",
		"aud":            "client-1",
		"email":          "ada@example.com",
		"email_verified": false,
	})}

	id, err := googleFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestGoogle_RejectsForeignIDToken(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"wrong audience", jwt.MapClaims{"iss": "accounts.google.com", "aud": "someone-else", "email": "a@b.co", "email_verified": true}},
		{"wrong issuer", jwt.MapClaims{"iss": "https://evil.example", "aud": "client-1", "email": "a@b.co", "email_verified": true}},
		{"expired", jwt.MapClaims{"iss": "accounts.google.com", "aud": "client-1", "email": "a@b.co", "email_verified": true, "exp": time.Now().Add(-time.Hour).Unix()}},
		{"not yet valid", jwt.MapClaims{"iss": "accounts.google.com", "aud": "client-1", "email": "a@b.co", "email_verified": true, "nbf": time.Now().Add(time.Hour).Unix()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &provider{idToken: idToken(t, tt.claims)}
			_, err := googleFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "OAUTH_ID_TOKEN_INVALID")
		})
	}
}

func TestGoogle_RejectsIDTokenWithoutExpiry(t *testing.T) {
	p := &provider{idToken: signToken(t, jwt.MapClaims{
		"iss":            "accounts.google.com",
		"aud":            "client-1",
		"email":          "a@b.co",
		"email_verified": true,
	})}
	_, err := googleFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OAUTH_ID_TOKEN_INVALID")
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
}

func TestGoogle_ToleratesSmallClockSkew(t *testing.T) {
	p := &provider{idToken: idToken(t, jwt.MapClaims{
		"iss":            "accounts.google.com",
		"aud":            "client-1",
		"email":          "a@b.co",
		"email_verified": true,
		"exp":            time.Now().Add(-10 * time.Second).Unix(),
	})}
	id, err := googleFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	require.NotNil(t, id)
}

func TestGoogle_InvalidGrantYieldsNoIdentity(t *testing.T) {
	p := &provider{rejectCode: "invalid_grant"}
	id, err := googleFor(t, p.serve(t)).ExchangeCode(context.Background(), "expired")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestGoogle_ProviderFailure(t *testing.T) {
	p := &provider{tokenFail: true}
	_, err := googleFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OAUTH_EXCHANGE_FAILED")
	errutil.AssertErrorContext(t, err, "provider", "google")
}

func TestGitHub_PrimaryVerifiedEmail(t *testing.T) {
	p := &provider{
		user: map[string]any{"login": "octocat", "name": "Mona Lisa Octocat"},
		emails: []map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "mona@example.com", "primary": true, "verified": true},
		},
	}
	id, err := githubFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, auth.Identity{Email: "mona@example.com", FirstName: "Mona", LastName: "Lisa Octocat"}, *id)
}

func TestGitHub_LoginWhenNameMissing(t *testing.T) {
	p := &provider{
		user:   map[string]any{"login": "octocat"},
		emails: []map[string]any{{"email": "mona@example.com", "primary": false, "verified": true}},
	}
	id, err := githubFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "octocat", id.FirstName)
	assert.Empty(t, id.LastName)
}

func TestGitHub_NoVerifiedEmailYieldsNoIdentity(t *testing.T) {
	p := &provider{
		user:   map[string]any{"login": "octocat"},
		emails: []map[string]any{{"email": "mona@example.com", "primary": true, "verified": false}},
	}
	id, err := githubFor(t, p.serve(t)).ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestGitHub_BadVerificationCodeYieldsNoIdentity(t *testing.T) {
	p := &provider{rejectCode: "bad_verification_code", rejectOK: true}
	id, err := githubFor(t, p.serve(t)).ExchangeCode(context.Background(), "stale")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestNew(t *testing.T) {
	cfg := Config{ClientID: "id", ClientSecret: "secret"}

	ex, err := New(auth.ProviderGoogle, cfg)
	require.NoError(t, err)
	assert.IsType(t, &Google{}, ex)

	ex, err = New(auth.ProviderGitHub, cfg)
	require.NoError(t, err)
	assert.IsType(t, &GitHub{}, ex)

	_, err = New(auth.Provider("myspace"), cfg)
	errutil.AssertErrorCode(t, err, "OAUTH_UNKNOWN_PROVIDER")

	_, err = New(auth.ProviderGoogle, Config{ClientID: "id"})
	errutil.AssertErrorCode(t, err, "OAUTH_CONFIG_INVALID")
}

func TestNewExchangers_SkipsDisabled(t *testing.T) {
	out, err := NewExchangers(map[auth.Provider]Config{
		auth.ProviderGoogle: {ClientID: "id", ClientSecret: "secret"},
		auth.ProviderGitHub: {},
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Contains(t, out, auth.ProviderGoogle)
}

func TestAuthCodeURL(t *testing.T) {
	g, err := NewGitHub(Config{ClientID: "id", ClientSecret: "secret", AuthURL: "https://gh.test/authorize"})
	require.NoError(t, err)
	u := g.AuthCodeURL("xyz")
	assert.Contains(t, u, "https://gh.test/authorize?")
	assert.Contains(t, u, "state=xyz")
	assert.Contains(t, u, "client_id=id")
}

func TestSplitName(t *testing.T) {
	first, last := splitName("  Ada  ")
	assert.Equal(t, "Ada", first)
	assert.Empty(t, last)

	first, last = splitName("Ada King Lovelace")
	assert.Equal(t, "Ada", first)
	assert.Equal(t, "King Lovelace", last)
}
