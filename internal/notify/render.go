// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/holomush/accountd/internal/auth"
)

const (
	keyWelcomeSubject         = "notify.signup_welcome.subject"
	keyWelcomeBody            = "notify.signup_welcome.body"
	keyWelcomeVerifiedSubject = "notify.signup_welcome_verified.subject"
	keyWelcomeVerifiedBody    = "notify.signup_welcome_verified.body"
	keyResetSubject           = "notify.password_reset.subject"
	keyResetBody              = "notify.password_reset.body"
	keyGreeting               = "notify.greeting"
	keyGreetingAnonymous      = "notify.greeting_anonymous"
)

func init() {
	lang := language.English

	message.SetString(lang, keyGreeting, "Hello %s,")
	message.SetString(lang, keyGreetingAnonymous, "Hello,")
	message.SetString(lang, keyWelcomeSubject, "Confirm your email address")
	message.SetString(lang, keyWelcomeBody,
		"Thanks for signing up. Confirm your email address by opening the link below:\n\n%s\n\nVerification code: %s\n")
	message.SetString(lang, keyWelcomeVerifiedSubject, "Welcome back")
	message.SetString(lang, keyWelcomeVerifiedBody,
		"Your email address is already confirmed. You can sign in at:\n\n%s\n")
	message.SetString(lang, keyResetSubject, "Reset your password")
	message.SetString(lang, keyResetBody,
		"A password reset was requested for your account. Choose a new password by opening the link below:\n\n%s\n\nReset code: %s\n\nIf you did not ask for this, ignore this message.\n")
}

// Rendered is the plain-text copy of one notification.
type Rendered struct {
	To      string
	Subject string
	Body    string
}

// Renderer turns notification payloads into plain-text copy. Links are
// built from BaseURL.
type Renderer struct {
	baseURL string
	printer *message.Printer
}

// NewRenderer returns an English renderer linking to baseURL.
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		printer: message.NewPrinter(language.English),
	}
}

// SignupWelcome renders the welcome carrying the verification token.
func (r *Renderer) SignupWelcome(msg auth.SignupWelcome) Rendered {
	if msg.AlreadyVerified {
		return Rendered{
			To:      msg.Email,
			Subject: r.printer.Sprintf(keyWelcomeVerifiedSubject),
			Body:    r.greeting(msg.FirstName) + "\n\n" + r.printer.Sprintf(keyWelcomeVerifiedBody, r.link("/signin", "")),
		}
	}
	return Rendered{
		To:      msg.Email,
		Subject: r.printer.Sprintf(keyWelcomeSubject),
		Body:    r.greeting(msg.FirstName) + "\n\n" + r.printer.Sprintf(keyWelcomeBody, r.link("/verify-email", msg.Token), msg.Token),
	}
}

// PasswordReset renders the reset notification.
func (r *Renderer) PasswordReset(msg auth.PasswordReset) Rendered {
	return Rendered{
		To:      msg.Email,
		Subject: r.printer.Sprintf(keyResetSubject),
		Body:    r.greeting(msg.FirstName) + "\n\n" + r.printer.Sprintf(keyResetBody, r.link("/reset-password", msg.Token), msg.Token),
	}
}

func (r *Renderer) greeting(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return r.printer.Sprintf(keyGreetingAnonymous)
	}
	return r.printer.Sprintf(keyGreeting, name)
}

func (r *Renderer) link(path, token string) string {
	if token == "" {
		return r.baseURL + path
	}
	return r.baseURL + path + "?" + url.Values{"token": {token}}.Encode()
}
