package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"gopkg.in/gomail.v2"

	"newsletter-service/api/pkg/metrics"
)

const smtpProvider = "smtp"

// SMTPConfig configures an SMTPClient.
type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	Sender             string
	SenderName         string
	InsecureSkipVerify bool
	Attempts           uint
	RetryDelay         time.Duration
}

// dialer is the part of *gomail.Dialer the client uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPClient delivers email over SMTP.
type SMTPClient struct {
	cfg    SMTPConfig
	dialer dialer
}

func NewSMTPClient(cfg SMTPConfig) *SMTPClient {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		slog.Warn("InsecureSkipVerify is enabled for SMTP TLS connection", "host", cfg.Host)
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for local relays
	}
	return newSMTPClient(cfg, d)
}

func newSMTPClient(cfg SMTPConfig, d dialer) *SMTPClient {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &SMTPClient{cfg: cfg, dialer: d}
}

func (c *SMTPClient) Send(ctx context.Context, msg Message) (*Result, error) {
	m := gomail.NewMessage()
	if c.cfg.SenderName != "" {
		m.SetAddressHeader("From", c.cfg.Sender, c.cfg.SenderName)
	} else {
		m.SetHeader("From", c.cfg.Sender)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}

	err := retry.Do(
		func() error { return c.dialer.DialAndSend(m) },
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("retrying SMTP send after error", "attempt", n, "host", c.cfg.Host, "error", err)
		}),
		retry.RetryIf(isRetryable),
	)
	if err != nil {
		metrics.MailSendFailure.WithLabelValues(smtpProvider).Inc()
		return nil, fmt.Errorf("send email to %s via %s: %w", msg.To, c.cfg.Host, err)
	}
	metrics.MailSendSuccess.WithLabelValues(smtpProvider).Inc()
	return &Result{DeliveryStatus: "sent", Sent: true}, nil
}
