package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

const (
	pushoverURL   = "https://api.pushover.net/1/messages.json"
	pushbulletURL = "https://api.pushbullet.com/v2/pushes"
)

func init() {
	Register("pushover", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.Token == "" || cfg.User == "" {
			return nil, fmt.Errorf("pushover channel %q: token and user are required", cfg.Name)
		}
		target := cfg.Target
		if target == "" {
			target = pushoverURL
		}
		return &PushoverChannel{name: cfg.Name, target: target, token: cfg.Token, user: cfg.User}, nil
	})
	Register("pushbullet", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.Token == "" {
			return nil, fmt.Errorf("pushbullet channel %q: token is required", cfg.Name)
		}
		target := cfg.Target
		if target == "" {
			target = pushbulletURL
		}
		return &PushbulletChannel{name: cfg.Name, target: target, token: cfg.Token}, nil
	})
}

// PushoverChannel sends a push notification through the Pushover API.
type PushoverChannel struct {
	name   string
	target string
	token  string
	user   string
}

func (c *PushoverChannel) Name() string { return c.name }

func (c *PushoverChannel) Send(ctx context.Context, title, body string) error {
	return postForm(ctx, c.target, url.Values{
		"token":   {c.token},
		"user":    {c.user},
		"title":   {title},
		"message": {body},
	}, "", "")
}

// PushbulletChannel sends a note push through the Pushbullet API.
type PushbulletChannel struct {
	name   string
	target string
	token  string
}

func (c *PushbulletChannel) Name() string { return c.name }

func (c *PushbulletChannel) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, c.target, map[string]string{
		"type":  "note",
		"title": title,
		"body":  body,
	}, map[string]string{"Access-Token": c.token})
}
