package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/convoscope/convoscope/internal/config"
)

// Ensure EmailChannel implements the Channel interface.
var _ Channel = (*EmailChannel)(nil)

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	cfg config.EmailAlertConfig
}

// NewEmailChannel returns an SMTP-backed channel.
func NewEmailChannel(cfg config.EmailAlertConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

// Send implements Channel.
func (c *EmailChannel) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(a.Priority.String()), a.Title)
	b.WriteString("\r\n")
	b.WriteString(a.Message)
	fmt.Fprintf(&b, "\r\n\r\nEmitted at %s\r\n", a.Time.Format("2006-01-02 15:04:05 MST"))

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, c.cfg.From, c.cfg.To, []byte(b.String())); err != nil {
		return fmt.Errorf("alerts: send email via %s: %w", addr, err)
	}
	return nil
}
