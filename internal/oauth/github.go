// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/holomush/accountd/internal/auth"
)

const githubAPIURL = "https://api.github.com"

// GitHub exchanges GitHub authorization codes. The email is the primary
// verified address from /user/emails.
type GitHub struct {
	cfg    *oauth2.Config
	client *http.Client
	apiURL string
}

// NewGitHub creates a GitHub exchanger.
func NewGitHub(cfg Config) (*GitHub, error) {
	if err := cfg.validate(auth.ProviderGitHub); err != nil {
		return nil, err
	}
	api := strings.TrimRight(cfg.APIURL, "/")
	if api == "" {
		api = githubAPIURL
	}
	return &GitHub{
		cfg:    cfg.oauth2Config(endpoints.GitHub, []string{"read:user", "user:email"}),
		client: cfg.httpClient(),
		apiURL: api,
	}, nil
}

// AuthCodeURL returns the consent page URL for state.
func (g *GitHub) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

type githubUser struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// ExchangeCode implements auth.IdentityExchanger.
func (g *GitHub) ExchangeCode(ctx context.Context, code string) (*auth.Identity, error) {
	tok, err := exchange(ctx, g.cfg, g.client, auth.ProviderGitHub, code)
	if err != nil || tok == nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	client := g.cfg.Client(ctx, tok)

	var emails []githubEmail
	if err := getJSON(ctx, client, g.apiURL+"/user/emails", &emails); err != nil {
		return nil, oops.Code("OAUTH_PROFILE_FAILED").
			With("provider", string(auth.ProviderGitHub)).
			With("resource", "emails").
			Wrap(err)
	}
	email := pickEmail(emails)
	if email == "" {
		return nil, nil
	}

	var user githubUser
	if err := getJSON(ctx, client, g.apiURL+"/user", &user); err != nil {
		return nil, oops.Code("OAUTH_PROFILE_FAILED").
			With("provider", string(auth.ProviderGitHub)).
			With("resource", "user").
			Wrap(err)
	}
	first, last := splitName(user.Name)
	if first == "" {
		first = user.Login
	}
	return &auth.Identity{Email: email, FirstName: first, LastName: last}, nil
}

// pickEmail prefers the primary verified address, then any verified one.
func pickEmail(emails []githubEmail) string {
	fallback := ""
	for _, e := range emails {
		if !e.Verified || e.Email == "" {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}

var _ auth.IdentityExchanger = (*GitHub)(nil)
