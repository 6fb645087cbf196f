package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

func init() {
	Register("webhook", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.Target == "" {
			return nil, fmt.Errorf("webhook channel %q: target URL is required", cfg.Name)
		}
		return &WebhookChannel{name: cfg.Name, target: cfg.Target}, nil
	})
	Register("discord", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.Target == "" {
			return nil, fmt.Errorf("discord channel %q: webhook URL is required", cfg.Name)
		}
		return &DiscordChannel{name: cfg.Name, target: cfg.Target}, nil
	})
	Register("slack", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.Target == "" {
			return nil, fmt.Errorf("slack channel %q: webhook URL is required", cfg.Name)
		}
		return &SlackChannel{name: cfg.Name, target: cfg.Target}, nil
	})
}

// WebhookChannel posts a generic JSON payload to an arbitrary endpoint.
type WebhookChannel struct {
	name   string
	target string
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, c.target, map[string]string{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"title":     title,
		"body":      body,
	}, nil)
}

// DiscordChannel posts an embed to a Discord webhook.
type DiscordChannel struct {
	name   string
	target string
}

func (c *DiscordChannel) Name() string { return c.name }

func (c *DiscordChannel) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, c.target, map[string]interface{}{
		"embeds": []map[string]interface{}{
			{"title": title, "description": body, "color": 5814783},
		},
	}, nil)
}

// SlackChannel posts a message to a Slack incoming webhook.
type SlackChannel struct {
	name   string
	target string
}

func (c *SlackChannel) Name() string { return c.name }

func (c *SlackChannel) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, c.target, map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", title, body),
	}, nil)
}
