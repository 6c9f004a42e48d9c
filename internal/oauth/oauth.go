// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package oauth exchanges OAuth authorization codes for identities asserted
// by Google and GitHub.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/holomush/accountd/internal/auth"
)

// DefaultHTTPTimeout bounds each request to a provider.
const DefaultHTTPTimeout = 10 * time.Second

// Config holds the client registration for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Endpoint overrides. Empty values use the provider defaults.
	AuthURL  string
	TokenURL string
	APIURL   string

	HTTPClient *http.Client
}

// Enabled reports whether the provider has client credentials.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c Config) validate(provider auth.Provider) error {
	if !c.Enabled() {
		return oops.Code("OAUTH_CONFIG_INVALID").
			With("provider", string(provider)).
			Errorf("client id and secret are required")
	}
	return nil
}

func (c Config) oauth2Config(defaults oauth2.Endpoint, defaultScopes []string) *oauth2.Config {
	endpoint := defaults
	if c.AuthURL != "" {
		endpoint.AuthURL = c.AuthURL
	}
	if c.TokenURL != "" {
		endpoint.TokenURL = c.TokenURL
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

// New returns the exchanger for provider.
func New(provider auth.Provider, cfg Config) (auth.IdentityExchanger, error) {
	switch provider {
	case auth.ProviderGoogle:
		return NewGoogle(cfg)
	case auth.ProviderGitHub:
		return NewGitHub(cfg)
	default:
		return nil, oops.Code("OAUTH_UNKNOWN_PROVIDER").
			With("provider", string(provider)).
			Errorf("unsupported provider")
	}
}

// NewExchangers builds exchangers for every enabled provider in cfgs.
// Providers without credentials are skipped.
func NewExchangers(cfgs map[auth.Provider]Config) (map[auth.Provider]auth.IdentityExchanger, error) {
	out := make(map[auth.Provider]auth.IdentityExchanger, len(cfgs))
	for provider, cfg := range cfgs {
		if !cfg.Enabled() {
			continue
		}
		ex, err := New(provider, cfg)
		if err != nil {
			return nil, err
		}
		out[provider] = ex
	}
	return out, nil
}

// rejectedCodes are token-endpoint error codes meaning the authorization
// code itself is bad, as opposed to the provider failing.
var rejectedCodes = map[string]bool{
	"invalid_grant":         true,
	"bad_verification_code": true,
}

// exchange trades code for a token. A rejected code yields (nil, nil).
func exchange(ctx context.Context, cfg *oauth2.Config, client *http.Client, provider auth.Provider, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := cfg.Exchange(ctx, code)
	if err == nil {
		return tok, nil
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rejectedCodes[rErr.ErrorCode] {
		return nil, nil
	}
	return nil, oops.Code("OAUTH_EXCHANGE_FAILED").
		With("provider", string(provider)).
		Wrap(err)
}

// getJSON fetches url with client and decodes the body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort detail
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(v) //nolint:wrapcheck // wrapped by caller
}

// splitName splits a display name at the first space.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	first, last, _ = strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}
