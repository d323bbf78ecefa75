// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
)

// WebhookConnector delivers JSON payloads to a single HTTP endpoint. With a
// secret set, the body is signed with HMAC-SHA256 so receivers can verify
// origin. Covers chat webhooks (Slack-style incoming hooks) and any generic
// notification sink.
type WebhookConnector struct {
	name      string
	ctype     Type
	url       string
	secret    string
	client    *http.Client
	connected bool
}

type WebhookOptions struct {
	Name   string
	Type   Type
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookConnector(opts WebhookOptions) *WebhookConnector {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ctype := opts.Type
	if ctype == "" {
		ctype = TypeChat
	}
	return &WebhookConnector{
		name:   opts.Name,
		ctype:  ctype,
		url:    strings.TrimSpace(opts.URL),
		secret: opts.Secret,
		client: client,
	}
}

func (c *WebhookConnector) Name() string { return c.name }
func (c *WebhookConnector) Type() Type   { return c.ctype }

func (c *WebhookConnector) Connect(ctx context.Context) Response {
	if c.url == "" {
		return Fail(errors.New("webhook url not configured"))
	}
	c.connected = true
	return OK(map[string]any{"url": c.url})
}

func (c *WebhookConnector) Disconnect(ctx context.Context) Response {
	c.connected = false
	return OK(nil)
}

func (c *WebhookConnector) HealthCheck(ctx context.Context) Response {
	if !c.connected {
		return Fail(errors.New("webhook connector is not connected"))
	}
	return OK(map[string]any{"url": c.url})
}

// Get is unsupported for webhooks; a one-way sink has nothing to read.
func (c *WebhookConnector) Get(ctx context.Context, params map[string]any) Response {
	return Fail(errors.New("webhook connector does not support get"))
}

func (c *WebhookConnector) Send(ctx context.Context, payload map[string]any) Response {
	if !c.connected {
		return Fail(errors.New("webhook connector is not connected"))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Fail(fmt.Errorf("marshal webhook payload: %w", err))
	}
	signature := signPayload(c.secret, body)

	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return Fail(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := c.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return Response{Success: true, StatusCode: resp.StatusCode, Timestamp: time.Now()}
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
			lastStatus = resp.StatusCode

			// Client errors will not heal on retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				break
			}
		} else {
			lastErr = err
		}

		if attempt < webhookRetryAttempts {
			select {
			case <-ctx.Done():
				return Fail(ctx.Err())
			case <-time.After(webhookRetryBase * time.Duration(attempt)):
			}
		}
	}

	return FailStatus(lastErr, lastStatus)
}

func signPayload(secret string, body []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
