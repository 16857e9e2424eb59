package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"newsletter-service/api/pkg/metrics"
)

const apiProvider = "api"

// APIConfig configures an APIClient.
type APIConfig struct {
	BaseURL            string
	Sender             string
	AuthorizationToken string
	Timeout            time.Duration
	// Attempts is the total number of tries per message; 1 disables retries.
	Attempts   uint
	RetryDelay time.Duration
}

// APIClient sends email through a Postmark-compatible HTTP API
// (POST {BaseURL}/email with a JSON body).
type APIClient struct {
	cfg        APIConfig
	httpClient *http.Client
}

// NewAPIClient creates a client for the given API. Accepts an optional
// http.Client for custom transport settings; its Timeout is overridden by cfg.Timeout.
func NewAPIClient(cfg APIConfig, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &APIClient{cfg: cfg, httpClient: httpClient}
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

type sendEmailResponse struct {
	MessageID string `json:"MessageID"`
}

// statusError is a non-2xx response from the email API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("email API returned %d: %s", e.code, e.body)
}

// Send posts the message. Transport errors and 5xx/429 responses are retried
// up to cfg.Attempts. Timeouts and other 4xx responses fail immediately.
func (c *APIClient) Send(ctx context.Context, msg Message) (*Result, error) {
	payload, err := json.Marshal(sendEmailRequest{
		From:     c.cfg.Sender,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal email request: %w", err)
	}

	var result *Result
	err = retry.Do(
		func() error {
			r, err := c.post(ctx, payload)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(c.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("retrying email send after error", "attempt", n, "to", msg.To, "error", err)
		}),
		retry.RetryIf(isRetryable),
	)
	if err != nil {
		metrics.MailSendFailure.WithLabelValues(apiProvider).Inc()
		return nil, fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	metrics.MailSendSuccess.WithLabelValues(apiProvider).Inc()
	return result, nil
}

func (c *APIClient) post(ctx context.Context, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.cfg.AuthorizationToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("email API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}

	slog.Debug("email API request completed", "status", resp.StatusCode, "durationMs", time.Since(start).Milliseconds())

	var parsed sendEmailResponse
	// Providers that return no JSON body are still treated as a success.
	_ = json.Unmarshal(body, &parsed)
	return &Result{DeliveryStatus: "sent", Sent: true, MessageID: parsed.MessageID}, nil
}

// isRetryable reports whether a failed send may be attempted again. A timed-out
// call may still have been delivered, so it is never retried.
func isRetryable(err error) bool {
	if isTimeout(err) {
		return false
	}
	var se *statusError
	if !errors.As(err, &se) {
		return true
	}
	return se.code >= 500 || se.code == http.StatusTooManyRequests
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
