// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

// LogSender is the development sender. It logs that a notification was
// produced and prints the rendered copy, token included, to Out. The log
// record itself never carries the token.
type LogSender struct {
	logger   *slog.Logger
	renderer *Renderer

	mu  sync.Mutex
	out io.Writer
}

// NewLogSender creates a LogSender writing copy to out.
func NewLogSender(logger *slog.Logger, renderer *Renderer, out io.Writer) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &LogSender{logger: logger, renderer: renderer, out: out}
}

// SendSignupWelcome implements auth.Notifier.
func (s *LogSender) SendSignupWelcome(ctx context.Context, msg auth.SignupWelcome) error {
	return s.emit(ctx, auth.NotificationSignupWelcome, s.renderer.SignupWelcome(msg))
}

// SendPasswordReset implements auth.Notifier.
func (s *LogSender) SendPasswordReset(ctx context.Context, msg auth.PasswordReset) error {
	return s.emit(ctx, auth.NotificationPasswordReset, s.renderer.PasswordReset(msg))
}

func (s *LogSender) emit(ctx context.Context, kind string, r Rendered) error {
	s.logger.InfoContext(ctx, "notification",
		"kind", kind,
		"domain", auth.EmailDomain(r.To),
		"subject", r.Subject)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "To: %s\nSubject: %s\n\n%s\n", r.To, r.Subject, r.Body); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("kind", kind).Wrap(err)
	}
	return nil
}

var _ auth.Notifier = (*LogSender)(nil)
