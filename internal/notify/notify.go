// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers account notifications over SMTP or to a local
// writer for development.
package notify

import (
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

// Drivers.
const (
	DriverLog  = "log"
	DriverSMTP = "smtp"
)

// Options selects and configures a sender.
type Options struct {
	Driver  string
	BaseURL string
	SMTP    SMTPConfig
	Logger  *slog.Logger
	// Out receives rendered copy for the log driver.
	Out io.Writer
}

// New returns the sender named by opts.Driver.
func New(opts Options) (auth.Notifier, error) {
	renderer := NewRenderer(opts.BaseURL)
	switch strings.ToLower(opts.Driver) {
	case DriverLog, "":
		return NewLogSender(opts.Logger, renderer, opts.Out), nil
	case DriverSMTP:
		return NewSMTPSender(opts.SMTP, renderer)
	default:
		return nil, oops.Code("NOTIFY_UNKNOWN_DRIVER").
			With("driver", opts.Driver).
			Errorf("unknown mail driver %q", opts.Driver)
	}
}
