// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/auth"
)

func (c *cli) newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Run account flows",
		Long: `Drive the account engine directly: sign up, verify, sign in, manage
passwords and profiles, and refresh or revoke sessions.`,
	}

	cmd.AddCommand(c.newSignUpCmd())
	cmd.AddCommand(c.newVerifyCmd())
	cmd.AddCommand(c.newSignInCmd())
	cmd.AddCommand(c.newSignInOAuthCmd())
	cmd.AddCommand(c.newForgotPasswordCmd())
	cmd.AddCommand(c.newResetPasswordCmd())
	cmd.AddCommand(c.newResendVerificationCmd())
	cmd.AddCommand(c.newRefreshCmd())
	cmd.AddCommand(c.newLogoutCmd())
	cmd.AddCommand(c.newWhoAmICmd())
	cmd.AddCommand(c.newUpdateProfileCmd())
	cmd.AddCommand(c.newChangePasswordCmd())

	return cmd
}

// withApp opens the engine, runs fn, and releases storage.
func (c *cli) withApp(cmd *cobra.Command, fn func(app *App) error) error {
	app, err := c.openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func (c *cli) newSignUpCmd() *cobra.Command {
	var (
		in            auth.NewAccount
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a password account and send the verification email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secrets := newSecretSource(cmd, passwordStdin, c.deps.PasswordReader)
			password, err := secrets.next("Password: ")
			if err != nil {
				return err
			}
			in.Password = password
			return c.withApp(cmd, func(app *App) error {
				user, err := app.Authenticator.SignUp(cmd.Context(), in)
				if err != nil {
					return err
				}
				cmd.Printf("Created account %s for %s; verification email sent\n", user.ID, user.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "account email")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above
	return cmd
}

func (c *cli) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Confirm an email address and start a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *App) error {
				sess, err := app.Authenticator.VerifyEmail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), sess)
				return nil
			})
		},
	}
}

func (c *cli) newSignInCmd() *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := newSecretSource(cmd, passwordStdin, c.deps.PasswordReader).next("Password: ")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(app *App) error {
				sess, err := app.Authenticator.SignIn(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), sess)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above
	return cmd
}

func (c *cli) newSignInOAuthCmd() *cobra.Command {
	var provider, code string
	cmd := &cobra.Command{
		Use:   "signin-oauth",
		Short: "Sign in with an OAuth authorization code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := auth.ParseProvider(provider)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(app *App) error {
				sess, err := app.Authenticator.SignInOAuth(cmd.Context(), p, code)
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), sess)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "identity provider ("+providerNames()+")")
	cmd.Flags().StringVar(&code, "code", "", "authorization code returned by the provider")
	_ = cmd.MarkFlagRequired("provider") //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("code")     //nolint:errcheck // flag is defined above
	return cmd
}

func (c *cli) newForgotPasswordCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Send a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(app *App) error {
				if err := app.Authenticator.ForgotPassword(cmd.Context(), email); err != nil {
					return err
				}
				cmd.Println("Password reset email sent")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above
	return cmd
}

func (c *cli) newResetPasswordCmd() *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "reset-password TOKEN",
		Short: "Set a new password with a reset token",
		Long: `Consume a password reset token and set a new password. Every session of
the account is revoked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := newSecretSource(cmd, passwordStdin, c.deps.PasswordReader).next("New password: ")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(app *App) error {
				if err := app.Authenticator.ResetPassword(cmd.Context(), args[0], password); err != nil {
					return err
				}
				cmd.Println("Password reset; all sessions revoked")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the new password from stdin")
	return cmd
}

func (c *cli) newResendVerificationCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "resend-verification",
		Short: "Resend the verification email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(app *App) error {
				if err := app.Authenticator.ResendVerification(cmd.Context(), email); err != nil {
					return err
				}
				cmd.Println("Verification email sent")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above
	return cmd
}

func (c *cli) newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh REFRESH_TOKEN",
		Short: "Exchange a refresh token for a new token pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *App) error {
				sess, err := app.Authenticator.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), sess)
				return nil
			})
		},
	}
}

func (c *cli) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout ACCESS_TOKEN",
		Short: "Revoke every session of the caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *App) error {
				if err := app.Authenticator.Logout(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmd.Println("Logged out")
				return nil
			})
		},
	}
}

func (c *cli) newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami ACCESS_TOKEN",
		Short: "Show the account owning an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *App) error {
				user, err := app.Authenticator.Authenticate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printUser(cmd.OutOrStdout(), user)
				return nil
			})
		},
	}
}

func (c *cli) newUpdateProfileCmd() *cobra.Command {
	var profile auth.Profile
	cmd := &cobra.Command{
		Use:   "update-profile ACCESS_TOKEN",
		Short: "Change the caller's email or name",
		Long: `Change the email address or name of the caller. Fields whose flag is not
given keep their current value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *App) error {
				current, err := app.Authenticator.Authenticate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if !flags.Changed("email") {
					profile.Email = current.Email
				}
				if !flags.Changed("first-name") {
					profile.FirstName = current.FirstName
				}
				if !flags.Changed("last-name") {
					profile.LastName = current.LastName
				}
				user, err := app.Authenticator.UpdateProfile(cmd.Context(), args[0], profile)
				if err != nil {
					return err
				}
				printUser(cmd.OutOrStdout(), user)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profile.Email, "email", "", "new email")
	cmd.Flags().StringVar(&profile.FirstName, "first-name", "", "new first name")
	cmd.Flags().StringVar(&profile.LastName, "last-name", "", "new last name")
	return cmd
}

func (c *cli) newChangePasswordCmd() *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "change-password ACCESS_TOKEN",
		Short: "Replace the caller's password",
		Long: `Replace the caller's password. With --password-stdin the current and the
new password are read as two lines. Every session is revoked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets := newSecretSource(cmd, passwordStdin, c.deps.PasswordReader)
			current, err := secrets.next("Current password: ")
			if err != nil {
				return err
			}
			next, err := secrets.next("New password: ")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(app *App) error {
				if err := app.Authenticator.ChangePassword(cmd.Context(), args[0], current, next); err != nil {
					return err
				}
				cmd.Println("Password changed; all sessions revoked")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read both passwords from stdin")
	return cmd
}

func printSession(w io.Writer, sess *auth.Session) {
	printUser(w, sess.User)
	printField(w, "access_token", sess.Tokens.Access.Value)
	printField(w, "access_expiry", sess.Tokens.Access.ExpiresAt.UTC().Format(time.RFC3339))
	printField(w, "refresh_token", sess.Tokens.Refresh.Value)
	printField(w, "refresh_expiry", sess.Tokens.Refresh.ExpiresAt.UTC().Format(time.RFC3339))
}

func printUser(w io.Writer, user *auth.User) {
	printField(w, "user_id", user.ID.String())
	printField(w, "email", user.Email)
	printField(w, "name", strings.TrimSpace(user.FirstName+" "+user.LastName))
	printField(w, "verified", fmt.Sprint(user.EmailVerified))
	var linked []string
	for _, p := range auth.Providers {
		if user.OAuth.Has(p) {
			linked = append(linked, string(p))
		}
	}
	if len(linked) > 0 {
		printField(w, "oauth", strings.Join(linked, ","))
	}
}

func printField(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%-15s %s\n", key+":", value)
}

func providerNames() string {
	names := make([]string, len(auth.Providers))
	for i, p := range auth.Providers {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
