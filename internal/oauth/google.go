// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oauth

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/holomush/accountd/internal/auth"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// idTokenLeeway absorbs clock skew when checking exp and nbf.
const idTokenLeeway = time.Minute

// Google exchanges Google authorization codes. The identity comes from the
// ID token returned by the token endpoint, or from the userinfo endpoint
// when no ID token is present.
type Google struct {
	cfg         *oauth2.Config
	client      *http.Client
	userInfoURL string
}

// NewGoogle creates a Google exchanger.
func NewGoogle(cfg Config) (*Google, error) {
	if err := cfg.validate(auth.ProviderGoogle); err != nil {
		return nil, err
	}
	userInfo := cfg.APIURL
	if userInfo == "" {
		userInfo = googleUserInfoURL
	}
	return &Google{
		cfg:         cfg.oauth2Config(endpoints.Google, []string{"openid", "email", "profile"}),
		client:      cfg.httpClient(),
		userInfoURL: userInfo,
	}, nil
}

// AuthCodeURL returns the consent page URL for state.
func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

type googleProfile struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

type googleClaims struct {
	googleProfile
	jwt.RegisteredClaims
}

// ExchangeCode implements auth.IdentityExchanger.
func (g *Google) ExchangeCode(ctx context.Context, code string) (*auth.Identity, error) {
	tok, err := exchange(ctx, g.cfg, g.client, auth.ProviderGoogle, code)
	if err != nil || tok == nil {
		return nil, err
	}

	var profile googleProfile
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		claims, err := g.parseIDToken(raw)
		if err != nil {
			return nil, err
		}
		profile = claims.googleProfile
	} else {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
		if err := getJSON(ctx, g.cfg.Client(ctx, tok), g.userInfoURL, &profile); err != nil {
			return nil, oops.Code("OAUTH_PROFILE_FAILED").
				With("provider", string(auth.ProviderGoogle)).
				Wrap(err)
		}
	}

	if profile.Email == "" || !isTrue(profile.EmailVerified) {
		return nil, nil
	}
	return &auth.Identity{
		Email:     profile.Email,
		FirstName: profile.GivenName,
		LastName:  profile.FamilyName,
	}, nil
}

// parseIDToken reads the claims of an ID token received directly from the
// token endpoint over TLS, so the signature is not re-verified. Issuer,
// audience and expiry are still checked.
func (g *Google) parseIDToken(raw string) (*googleClaims, error) {
	claims := &googleClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, oops.Code("OAUTH_ID_TOKEN_INVALID").
			With("provider", string(auth.ProviderGoogle)).
			Wrap(err)
	}
	if !slices.Contains(googleIssuers, claims.Issuer) {
		return nil, oops.Code("OAUTH_ID_TOKEN_INVALID").
			With("provider", string(auth.ProviderGoogle)).
			With("issuer", claims.Issuer).
			Errorf("unexpected issuer")
	}
	if !slices.Contains(claims.Audience, g.cfg.ClientID) {
		return nil, oops.Code("OAUTH_ID_TOKEN_INVALID").
			With("provider", string(auth.ProviderGoogle)).
			Errorf("token audience does not include this client")
	}
	validator := jwt.NewValidator(jwt.WithExpirationRequired(), jwt.WithLeeway(idTokenLeeway))
	if err := validator.Validate(claims); err != nil {
		return nil, oops.Code("OAUTH_ID_TOKEN_INVALID").
			With("provider", string(auth.ProviderGoogle)).
			Wrap(err)
	}
	return claims, nil
}

// isTrue accepts both JSON booleans and the string form some Google
// responses use.
func isTrue(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}

var _ auth.IdentityExchanger = (*Google)(nil)
