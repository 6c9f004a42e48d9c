// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// AllowAllDomains is the pattern that admits every email domain.
const AllowAllDomains = "**"

// RegistrationPolicy restricts which email domains may create accounts.
// Patterns use '.' as the segment separator: "*.example.com" matches
// "mail.example.com" but not "example.com"; "**" matches anything.
type RegistrationPolicy struct {
	patterns []string
	globs    []glob.Glob
}

// NewRegistrationPolicy compiles the domain patterns. An empty list admits
// every domain.
func NewRegistrationPolicy(patterns []string) (*RegistrationPolicy, error) {
	if len(patterns) == 0 {
		patterns = []string{AllowAllDomains}
	}
	p := &RegistrationPolicy{patterns: make([]string, 0, len(patterns))}
	for _, raw := range patterns {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.Code("POLICY_INVALID_PATTERN").
				With("pattern", raw).
				Wrapf(ErrInvalidInput, "invalid email domain pattern: %v", err)
		}
		p.patterns = append(p.patterns, pattern)
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// AllowAll returns a policy that admits every domain.
func AllowAll() *RegistrationPolicy {
	p, _ := NewRegistrationPolicy(nil) //nolint:errcheck // constant pattern always compiles
	return p
}

// Patterns returns the normalized patterns of the policy.
func (p *RegistrationPolicy) Patterns() []string {
	out := make([]string, len(p.patterns))
	copy(out, p.patterns)
	return out
}

// Check returns an error if email's domain is not admitted.
func (p *RegistrationPolicy) Check(email string) error {
	domain := EmailDomain(email)
	for _, g := range p.globs {
		if g.Match(domain) {
			return nil
		}
	}
	return oops.Code("ACCOUNT_EMAIL_DOMAIN_NOT_ALLOWED").
		With("domain", domain).
		Wrapf(ErrInvalidInput, "email domain is not allowed to register")
}
