// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/auth/sqlite"
	"github.com/holomush/accountd/internal/store"
)

// outbox captures notifications in memory.
type outbox struct {
	mu      sync.Mutex
	welcome []auth.SignupWelcome
	resets  []auth.PasswordReset
}

func (o *outbox) SendSignupWelcome(_ context.Context, msg auth.SignupWelcome) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.welcome = append(o.welcome, msg)
	return nil
}

func (o *outbox) SendPasswordReset(_ context.Context, msg auth.PasswordReset) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets = append(o.resets, msg)
	return nil
}

func (o *outbox) lastWelcome() auth.SignupWelcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	Expect(o.welcome).NotTo(BeEmpty())
	return o.welcome[len(o.welcome)-1]
}

func (o *outbox) resetTokens() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	tokens := make([]string, 0, len(o.resets))
	for _, r := range o.resets {
		tokens = append(tokens, r.Token)
	}
	return tokens
}

// staticExchanger asserts one identity for a single valid code.
type staticExchanger struct {
	code     string
	identity auth.Identity
}

func (e staticExchanger) ExchangeCode(_ context.Context, code string) (*auth.Identity, error) {
	if code != e.code {
		return nil, nil
	}
	id := e.identity
	return &id, nil
}

// fastHasher keeps argon2 parameters out of the suite's runtime budget.
type fastHasher struct{}

func (fastHasher) Hash(p string) (string, error) {
	if p == "" {
		return "", auth.ErrEmptyPassword
	}
	return "plain$" + p, nil
}
func (fastHasher) Verify(p, h string) (bool, error) { return h == "plain$"+p, nil }
func (fastHasher) NeedsUpgrade(string) bool         { return false }

var _ = Describe("Authentication flows on SQLite", func() {
	var (
		ctx      context.Context
		clock    time.Time
		mail     *outbox
		accounts *auth.AccountService
		sessions *auth.SessionService
		authn    *auth.Authenticator
		tokens   *sqlite.TokenRepository
	)

	now := func() time.Time { return clock }

	BeforeEach(func() {
		ctx = context.Background()
		clock = time.Now().UTC().Truncate(time.Millisecond)
		mail = &outbox{}

		db, err := store.OpenSQLite(ctx, store.MemoryPath)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		Expect(store.MigrateSQLite(db)).To(Succeed())

		tokens = sqlite.NewTokenRepository(db)
		accounts, err = auth.NewAccountService(sqlite.NewAccountRepository(db), fastHasher{}, mail, auth.WithClock(now))
		Expect(err).NotTo(HaveOccurred())
		sessions, err = auth.NewSessionService(tokens, sqlite.NewTransactor(db), auth.DefaultSessionConfig(), auth.WithClock(now))
		Expect(err).NotTo(HaveOccurred())

		cfg := auth.DefaultAuthenticatorConfig()
		cfg.Exchangers = map[auth.Provider]auth.IdentityExchanger{
			auth.ProviderGoogle: staticExchanger{code: "good-code", identity: auth.Identity{Email: "oauth@example.com", FirstName: "Olive", LastName: "Auth"}},
			auth.ProviderGitHub: staticExchanger{code: "gh-code", identity: auth.Identity{Email: "OAuth@Example.com"}},
		}
		authn, err = auth.NewAuthenticator(accounts, sessions, fastHasher{}, cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	signUpAndVerify := func(email, password string) *auth.Session {
		_, err := authn.SignUp(ctx, auth.NewAccount{Email: email, Password: password, FirstName: "A", LastName: "B"})
		Expect(err).NotTo(HaveOccurred())
		sess, err := authn.VerifyEmail(ctx, mail.lastWelcome().Token)
		Expect(err).NotTo(HaveOccurred())
		return sess
	}

	Describe("sign-up, verification and sign-in", func() {
		It("signs in only with the creation password after verification", func() {
			user, err := authn.SignUp(ctx, auth.NewAccount{Email: "a@x.com", Password: "pw1", FirstName: "A", LastName: "B"})
			Expect(err).NotTo(HaveOccurred())
			Expect(user.EmailVerified).To(BeFalse())
			Expect(user.SignupToken).NotTo(BeEmpty())
			Expect(mail.lastWelcome().Token).To(Equal(user.SignupToken))

			_, err = authn.SignIn(ctx, "a@x.com", "pw1")
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized), "unverified accounts cannot sign in")

			sess, err := authn.VerifyEmail(ctx, user.SignupToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.User.EmailVerified).To(BeTrue())

			sess, err = authn.SignIn(ctx, "a@x.com", "pw1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.Tokens.Access.Value).NotTo(BeEmpty())
			Expect(sess.Tokens.Refresh.Value).NotTo(Equal(sess.Tokens.Access.Value))

			_, err = authn.SignIn(ctx, "a@x.com", "wrong")
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized))
		})

		It("rejects a second sign-up with the same email in another case", func() {
			_, err := authn.SignUp(ctx, auth.NewAccount{Email: "dup@x.com", Password: "pw"})
			Expect(err).NotTo(HaveOccurred())

			_, err = authn.SignUp(ctx, auth.NewAccount{Email: "DUP@X.com", Password: "pw"})
			Expect(auth.KindOf(err)).To(Equal(auth.KindConflict))
		})

		It("leaves accounts untouched when verifying an unknown token", func() {
			user, err := authn.SignUp(ctx, auth.NewAccount{Email: "u@x.com", Password: "pw"})
			Expect(err).NotTo(HaveOccurred())

			_, err = authn.VerifyEmail(ctx, "no-such-token")
			Expect(auth.KindOf(err)).To(Equal(auth.KindNotFound))

			stored, err := accounts.FindByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.EmailVerified).To(BeFalse())
			Expect(stored.SignupToken).To(Equal(user.SignupToken))
		})

		It("reaches the same state when the account is verified twice", func() {
			user, err := authn.SignUp(ctx, auth.NewAccount{Email: "twice@x.com", Password: "pw"})
			Expect(err).NotTo(HaveOccurred())
			Expect(accounts.VerifyEmail(ctx, user.ID)).To(Succeed())
			first, err := accounts.FindByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(accounts.VerifyEmail(ctx, user.ID)).To(Succeed())
			second, err := accounts.FindByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.EmailVerified).To(Equal(first.EmailVerified))
			Expect(second.SignupToken).To(Equal(first.SignupToken))
		})
	})

	Describe("password reset", func() {
		It("hands out the same pending token and revokes sessions on completion", func() {
			sess := signUpAndVerify("reset@x.com", "old")

			Expect(authn.ForgotPassword(ctx, "reset@x.com")).To(Succeed())
			Expect(authn.ForgotPassword(ctx, "RESET@x.com")).To(Succeed())
			sent := mail.resetTokens()
			Expect(sent).To(HaveLen(2))
			Expect(sent[0]).To(Equal(sent[1]))

			Expect(authn.ResetPassword(ctx, sent[0], "new")).To(Succeed())

			stored, err := accounts.FindByEmail(ctx, "reset@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ResetPasswordToken).To(BeEmpty())

			_, err = authn.SignIn(ctx, "reset@x.com", "old")
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized))
			_, err = authn.SignIn(ctx, "reset@x.com", "new")
			Expect(err).NotTo(HaveOccurred())

			_, err = authn.Authenticate(ctx, sess.Tokens.Access.Value)
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized), "sessions from before the reset are revoked")

			Expect(authn.ResetPassword(ctx, sent[0], "again")).To(MatchError(auth.ErrNotFound))
		})

		It("reports an unknown email as not found", func() {
			Expect(auth.KindOf(authn.ForgotPassword(ctx, "ghost@x.com"))).To(Equal(auth.KindNotFound))
		})
	})

	Describe("OAuth sign-in", func() {
		It("creates exactly one verified account and links further providers", func() {
			sess, err := authn.SignInOAuth(ctx, auth.ProviderGoogle, "good-code")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.User.EmailVerified).To(BeTrue())
			Expect(sess.User.OAuth.Google).To(BeTrue())
			Expect(sess.User.HasPassword()).To(BeFalse())

			again, err := authn.SignInOAuth(ctx, auth.ProviderGoogle, "good-code")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.User.ID).To(Equal(sess.User.ID))

			linked, err := authn.SignInOAuth(ctx, auth.ProviderGitHub, "gh-code")
			Expect(err).NotTo(HaveOccurred())
			Expect(linked.User.ID).To(Equal(sess.User.ID))

			stored, err := accounts.FindByID(ctx, sess.User.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.OAuth.Google).To(BeTrue())
			Expect(stored.OAuth.GitHub).To(BeTrue())

			_, err = authn.SignIn(ctx, "oauth@example.com", "anything")
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized), "oauth-only accounts have no password")
		})

		It("rejects an invalid code without creating an account", func() {
			_, err := authn.SignInOAuth(ctx, auth.ProviderGoogle, "bad-code")
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized))

			_, err = accounts.FindByEmail(ctx, "oauth@example.com")
			Expect(auth.KindOf(err)).To(Equal(auth.KindNotFound))
		})
	})

	Describe("sessions", func() {
		It("resolves nothing for revoked or expired tokens", func() {
			sess := signUpAndVerify("s@x.com", "pw")
			access := sess.Tokens.Access.Value

			id, ok, err := sessions.ResolveUserID(ctx, access)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(sess.User.ID))

			clock = clock.Add(auth.DefaultAccessTTL)
			_, ok, err = sessions.ResolveUserID(ctx, access)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse(), "the token expires exactly at its TTL")

			clock = clock.Add(-auth.DefaultAccessTTL)
			Expect(authn.Logout(ctx, access)).To(Succeed())
			_, ok, err = sessions.ResolveUserID(ctx, access)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			_, ok, err = sessions.ResolveUserID(ctx, sess.Tokens.Refresh.Value)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("rotates refresh tokens so each can be spent once", func() {
			sess := signUpAndVerify("r@x.com", "pw")

			next, err := authn.Refresh(ctx, sess.Tokens.Refresh.Value)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.Tokens.Refresh.Value).NotTo(Equal(sess.Tokens.Refresh.Value))

			_, err = authn.Refresh(ctx, sess.Tokens.Refresh.Value)
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized))

			_, err = authn.Refresh(ctx, next.Tokens.Access.Value)
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized), "an access token cannot refresh")
		})

		It("revokes every earlier token with RevokeAll", func() {
			first := signUpAndVerify("all@x.com", "pw")
			second, err := authn.SignIn(ctx, "all@x.com", "pw")
			Expect(err).NotTo(HaveOccurred())

			n, err := sessions.RevokeAll(ctx, first.User.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(4)))

			for _, v := range []string{first.Tokens.Access.Value, second.Tokens.Refresh.Value} {
				_, ok, err := sessions.ResolveUserID(ctx, v)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			}
		})

		It("prunes only expired tokens", func() {
			sess := signUpAndVerify("p@x.com", "pw")

			clock = clock.Add(auth.DefaultAccessTTL + time.Minute)
			n, err := sessions.PruneExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = tokens.FindOne(ctx, auth.TokenFilter{Value: auth.HashToken(sess.Tokens.Refresh.Value)})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("profile and password changes", func() {
		It("updates the profile and refuses an email owned by another account", func() {
			signUpAndVerify("taken@x.com", "pw")
			sess := signUpAndVerify("me@x.com", "pw")

			user, err := authn.UpdateProfile(ctx, sess.Tokens.Access.Value, auth.Profile{Email: "me2@x.com", FirstName: "Ada", LastName: "Byron"})
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Email).To(Equal("me2@x.com"))
			Expect(user.FirstName).To(Equal("Ada"))

			_, err = authn.UpdateProfile(ctx, sess.Tokens.Access.Value, auth.Profile{Email: "TAKEN@x.com", FirstName: "Ada", LastName: "Byron"})
			Expect(auth.KindOf(err)).To(Equal(auth.KindConflict))
		})

		It("changes the password and ends every session", func() {
			sess := signUpAndVerify("cp@x.com", "old")

			Expect(authn.ChangePassword(ctx, sess.Tokens.Access.Value, "old", "new")).To(Succeed())

			_, err := authn.Authenticate(ctx, sess.Tokens.Access.Value)
			Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized))
			_, err = authn.SignIn(ctx, "cp@x.com", "new")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
