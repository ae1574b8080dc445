package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"

	mail "github.com/go-mail/mail/v2"

	"channel_monitor/internal/config"
)

type mailDialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Email delivers notifications over SMTP.
type Email struct {
	cfg    config.SMTPConfig
	dialer mailDialer
}

// NewEmail creates the email provider from SMTP settings. Missing host,
// from, or to leaves the provider unconfigured.
func NewEmail(cfg config.SMTPConfig) *Email {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &Email{cfg: cfg, dialer: d}
}

// Name implements Provider.
func (e *Email) Name() string { return "email" }

// Configured implements Provider.
func (e *Email) Configured() bool {
	return e.cfg.Host != "" && e.cfg.From != "" && e.cfg.To != ""
}

// Send implements Provider. The dialer has no context support, so the
// SMTP exchange runs to completion once started.
func (e *Email) Send(_ context.Context, m Message) error {
	msg := mail.NewMessage()
	msg.SetHeader("From", e.cfg.From)
	msg.SetHeader("To", e.cfg.To)
	msg.SetHeader("Subject", fmt.Sprintf("Alert: %q found in %s", m.Pattern, m.Channel))
	msg.SetBody("text/html", emailBody(m))

	if err := e.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func emailBody(m Message) string {
	link := ""
	if m.Link != "" {
		link = fmt.Sprintf(`<p><a href="%s">Message link</a></p>`, html.EscapeString(m.Link))
	}
	return fmt.Sprintf(`<html><body style="font-family: Arial, sans-serif;">
<h2>Keyword found</h2>
<p><strong>Keyword:</strong> %s</p>
<p><strong>Channel:</strong> %s</p>
<hr>
<div style="background: #f5f5f5; padding: 15px; border-radius: 5px;">%s</div>
%s
</body></html>`,
		html.EscapeString(m.Pattern), html.EscapeString(m.Channel),
		html.EscapeString(m.Body), link)
}
