package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var _ Notifier = (*DiscordWebhook)(nil)

// DiscordWebhook posts messages as a single embed to a Discord webhook URL.
type DiscordWebhook struct {
	url    string
	client *http.Client
}

// NewDiscordWebhook creates a webhook notifier. A nil client uses a 10s timeout client.
func NewDiscordWebhook(url string, client *http.Client) *DiscordWebhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscordWebhook{url: url, client: client}
}

// Name implements Named.
func (d *DiscordWebhook) Name() string { return "discord" }

type webhookEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

// Deliver posts msg to the webhook.
func (d *DiscordWebhook) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{Embeds: []webhookEmbed{{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       msg.Color,
	}}})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord webhook: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
