// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

// DefaultSMTPTimeout bounds one delivery when SMTPConfig.Timeout is zero.
const DefaultSMTPTimeout = 30 * time.Second

// SMTPConfig configures SMTP delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds the whole exchange, from dial to QUIT.
	Timeout time.Duration
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks that the configuration can deliver mail.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return oops.Code("NOTIFY_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("NOTIFY_CONFIG_INVALID").With("port", c.Port).Errorf("smtp port out of range")
	}
	if c.Timeout < 0 {
		return oops.Code("NOTIFY_CONFIG_INVALID").With("timeout", c.Timeout).Errorf("smtp timeout must not be negative")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return oops.Code("NOTIFY_CONFIG_INVALID").With("from", c.From).Wrapf(err, "invalid sender address")
	}
	return nil
}

// SMTPSender delivers notifications as plain-text MIME mail. Every delivery
// is bounded by the caller's context and the configured timeout.
type SMTPSender struct {
	cfg      SMTPConfig
	from     *mail.Address
	renderer *Renderer
	dialer   net.Dialer
	now      func() time.Time
}

// NewSMTPSender creates an SMTP sender. PLAIN auth is used when a username
// is configured.
func NewSMTPSender(cfg SMTPConfig, renderer *Renderer) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("renderer is required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Wrap(err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	return &SMTPSender{cfg: cfg, from: from, renderer: renderer, now: time.Now}, nil
}

// SendSignupWelcome implements auth.Notifier.
func (s *SMTPSender) SendSignupWelcome(ctx context.Context, msg auth.SignupWelcome) error {
	return s.deliver(ctx, auth.NotificationSignupWelcome, s.renderer.SignupWelcome(msg))
}

// SendPasswordReset implements auth.Notifier.
func (s *SMTPSender) SendPasswordReset(ctx context.Context, msg auth.PasswordReset) error {
	return s.deliver(ctx, auth.NotificationPasswordReset, s.renderer.PasswordReset(msg))
}

func (s *SMTPSender) deliver(ctx context.Context, kind string, r Rendered) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("kind", kind).Wrap(err)
	}
	raw, err := compose(s.from, r, s.now())
	if err != nil {
		return oops.Code("NOTIFY_COMPOSE_FAILED").With("kind", kind).Wrap(err)
	}

	if err := s.send(ctx, r.To, raw); err != nil {
		if ctxErr := contextErr(ctx); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return oops.Code("NOTIFY_SEND_FAILED").
			With("kind", kind).
			With("smtp_addr", s.cfg.Addr()).
			Wrap(err)
	}
	return nil
}

// contextErr reports ctx.Err, waiting out the timer race when the
// connection deadline fired at the same instant as the context's.
func contextErr(ctx context.Context) error {
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		<-ctx.Done()
	}
	return ctx.Err()
}

// send runs one SMTP transaction. The connection deadline follows ctx and
// cancellation interrupts any blocked read or write.
func (s *SMTPSender) send(ctx context.Context, to string, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err //nolint:wrapcheck // wrapped by caller
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err //nolint:wrapcheck // wrapped by caller
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err //nolint:wrapcheck // wrapped by caller
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server does not support AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return err //nolint:wrapcheck // wrapped by caller
		}
	}
	if err := c.Mail(s.from.Address); err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	if err := c.Rcpt(to); err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	w, err := c.Data()
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	if _, err := w.Write(raw); err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	if err := w.Close(); err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	return c.Quit() //nolint:wrapcheck // wrapped by caller
}

// compose builds a single-part text/plain message.
func compose(from *mail.Address, r Rendered, date time.Time) ([]byte, error) {
	to, err := mail.ParseAddress(r.To)
	if err != nil {
		return nil, oops.With("to", r.To).Wrapf(err, "invalid recipient")
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(r.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	if _, err := io.WriteString(w, r.Body); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	if err := w.Close(); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	return buf.Bytes(), nil
}

var _ auth.Notifier = (*SMTPSender)(nil)
