package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const textbeltURL = "https://textbelt.com/text"

// TextbeltProvider sends texts through the Textbelt HTTP API.
type TextbeltProvider struct {
	client   *http.Client
	logger   *slog.Logger
	apiKey   string
	endpoint string
}

// NewTextbeltProvider creates a new Textbelt SMS provider.
func NewTextbeltProvider(apiKey string, logger *slog.Logger) *TextbeltProvider {
	return &TextbeltProvider{
		apiKey:   apiKey,
		endpoint: textbeltURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// textbeltResponse is the delivery acknowledgment from the API.
type textbeltResponse struct {
	Error          string `json:"error"`
	QuotaRemaining int    `json:"quotaRemaining"`
	Success        bool   `json:"success"`
}

// Send posts the message to Textbelt. Transient HTTP failures are retried a
// few times; a declined acknowledgment (bad key, quota exhausted) is not.
func (t *TextbeltProvider) Send(ctx context.Context, phone, message string) error {
	form := url.Values{
		"phone":   {phone},
		"message": {message},
		"key":     {t.apiKey},
	}

	return retry.Do(
		func() error {
			t.logger.Info("Textbelt API request starting",
				"method", "POST",
				"phone", phone,
				"message_length", len(message))

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			startTime := time.Now()
			resp, err := t.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				t.logger.Warn("Textbelt request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					t.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				t.logger.Warn("Textbelt returned non-2xx status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var ack textbeltResponse
			if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}

			if !ack.Success {
				t.logger.Warn("Textbelt declined the message", "error", ack.Error)
				return retry.Unrecoverable(fmt.Errorf("textbelt: %s", ack.Error))
			}

			t.logger.Info("Textbelt request completed",
				"duration_ms", duration.Milliseconds(),
				"quota_remaining", ack.QuotaRemaining)

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Info("Retrying SMS send after error", "attempt", n, "error", err)
		}),
	)
}
