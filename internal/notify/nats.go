package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rcliao/mail-sentinel/internal/retry"
)

func init() {
	Register("nats", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.Subject == "" {
			return nil, fmt.Errorf("nats channel %q: subject is required", cfg.Name)
		}
		target := cfg.Target
		if target == "" {
			target = nats.DefaultURL
		}
		conn, err := nats.Connect(target,
			nats.Timeout(5*time.Second),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(3),
		)
		if err != nil {
			return nil, fmt.Errorf("nats channel %q: connect %s: %w", cfg.Name, target, err)
		}
		return &NATSChannel{name: cfg.Name, conn: conn, subject: cfg.Subject}, nil
	})
}

// NATSChannel publishes alerts to a NATS subject for downstream consumers.
type NATSChannel struct {
	name    string
	conn    *nats.Conn
	subject string
}

func (c *NATSChannel) Name() string { return c.name }

func (c *NATSChannel) Send(_ context.Context, title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"title":     title,
		"body":      body,
	})
	if err != nil {
		return retry.Permanent(err)
	}
	if err := c.conn.Publish(c.subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", c.subject, err)
	}
	return c.conn.FlushTimeout(5 * time.Second)
}

// Close releases the NATS connection.
func (c *NATSChannel) Close() {
	c.conn.Close()
}
