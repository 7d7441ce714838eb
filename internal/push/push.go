// Package push delivers notifications to third-party endpoints configured
// per rule. Channel URLs use the shoutrrr scheme, e.g. "ntfy://host/topic".
package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containrrr/shoutrrr"

	"tg_forwarder/internal/model"
)

// fillerBody is used for follow-up notifications after the first file in
// single mode.
const fillerBody = "(attachment)"

// Attachment is one media file delivered alongside a notification. URL is
// the externally reachable media link when one exists.
type Attachment struct {
	Name string
	URL  string
}

// notifyFunc sends one message to a channel URL.
type notifyFunc func(url, message string) error

// Sender delivers push notifications for a rule's configs.
type Sender struct {
	notify notifyFunc
	log    *slog.Logger
}

// NewSender creates a Sender using the shoutrrr router.
func NewSender(log *slog.Logger) *Sender {
	return &Sender{notify: shoutrrr.Send, log: log}
}

// NewSenderWithNotify creates a Sender with a custom transport (useful for
// testing).
func NewSenderWithNotify(notify notifyFunc, log *slog.Logger) *Sender {
	return &Sender{notify: notify, log: log}
}

// SendAll delivers the message to every enabled config. Configs are
// attempted independently; failures are logged and do not stop the rest.
func (s *Sender) SendAll(ctx context.Context, configs []model.PushConfig, body string, attachments []Attachment) {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}
		if err := s.sendOne(cfg, body, attachments); err != nil {
			s.log.Error("push delivery failed", "rule_id", cfg.RuleID, "channel", cfg.ChannelURL, "error", err)
		}
	}
}

func (s *Sender) sendOne(cfg model.PushConfig, body string, attachments []Attachment) error {
	if len(attachments) == 0 {
		return s.notify(cfg.ChannelURL, body)
	}

	if cfg.MediaSendMode == model.MediaSendMultiple {
		if err := s.notify(cfg.ChannelURL, composeBody(body, attachments)); err == nil {
			return nil
		}
		// Fall back to one notification per file.
	}

	var firstErr error
	for i, att := range attachments {
		msg := fillerBody
		if i == 0 {
			msg = body
		}
		if err := s.notify(cfg.ChannelURL, composeBody(msg, []Attachment{att})); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("send attachment %s: %w", att.Name, err)
		}
	}
	return firstErr
}

func composeBody(body string, attachments []Attachment) string {
	for _, att := range attachments {
		line := att.Name
		if att.URL != "" {
			line = att.URL
		}
		body += "\n" + line
	}
	return body
}
