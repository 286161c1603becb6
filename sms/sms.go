// Package sms sends shift notifications by text message via a pluggable
// provider, throttled so repeated polls do not spam the recipient.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shiftwatch/pkg/shift"
)

const (
	// maxBodyLength caps the shift list inside one text. Longer lists get a
	// placeholder instead of a misleading truncation.
	maxBodyLength = 95

	throttleInterval = time.Hour

	tooManyShiftsBody = "(too many shifts for text)"
	shiftsLink        = "https://members.foodcoop.com/services/shifts"
)

// Provider defines the interface for SMS sending implementations.
type Provider interface {
	// Send delivers one text message to the given phone number.
	Send(ctx context.Context, phone, message string) error
}

// Notifier formats shift matches and texts them through a provider. At most
// one text goes out per throttle interval; everything in between is
// suppressed. Single-writer: the poll loop owns the only reference.
type Notifier struct {
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
	phone    string
	lastSent time.Time
}

// New creates a notifier that texts the given phone number.
func New(provider Provider, phone string, logger *slog.Logger) *Notifier {
	return &Notifier{
		provider: provider,
		phone:    phone,
		logger:   logger,
		now:      time.Now,
	}
}

// MaybeNotify texts the matches unless a notification already went out
// within the throttle interval. Delivery is best-effort: a transport failure
// is logged, still counts against the throttle, and never propagates.
func (n *Notifier) MaybeNotify(ctx context.Context, matches []shift.Record) {
	if len(matches) == 0 {
		return
	}

	now := n.now()
	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < throttleInterval {
		n.logger.Info("Not sending text, throttle interval has not elapsed",
			"last_sent", n.lastSent.Format(time.RFC3339),
			"interval", throttleInterval.String())
		return
	}

	body := shift.FormatList(matches)
	if len(body) > maxBodyLength {
		body = tooManyShiftsBody
	}
	message := fmt.Sprintf("Coop shifts available!\n%s\n\nCheck now: %s", body, shiftsLink)

	n.logger.Info("Sending text message to coop member", "matches", len(matches))
	if err := n.provider.Send(ctx, n.phone, message); err != nil {
		n.logger.Warn("SMS send failed", "error", err)
	}
	n.lastSent = now
}
