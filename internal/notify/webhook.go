package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Webhook delivers notifications as a JSON POST to a configured URL.
// The payload uses the Discord embed shape, which generic webhook
// receivers can also consume.
type Webhook struct {
	url    string
	client HTTPClient
}

// NewWebhook creates the webhook provider. An empty URL leaves the
// provider unconfigured.
func NewWebhook(url string, client HTTPClient) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, client: client}
}

// Name implements Provider.
func (w *Webhook) Name() string { return "webhook" }

// Configured implements Provider.
func (w *Webhook) Configured() bool { return w.url != "" }

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Fields      []webhookField `json:"fields"`
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

// descriptionLimit caps the embed description, counted in runes so the
// cut never splits a multibyte character.
const descriptionLimit = 2000

// Send implements Provider.
func (w *Webhook) Send(ctx context.Context, m Message) error {
	body := truncateRunes(m.Body, descriptionLimit)
	payload := webhookPayload{Embeds: []webhookEmbed{{
		Title:       "Keyword found",
		Description: body,
		URL:         m.Link,
		Fields: []webhookField{
			{Name: "Keyword", Value: m.Pattern, Inline: true},
			{Name: "Channel", Value: m.Channel, Inline: true},
		},
	}}}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %v", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: webhook status %d", ErrPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
