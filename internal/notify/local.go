package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rcliao/mail-sentinel/internal/model"
	"github.com/rcliao/mail-sentinel/internal/retry"
)

func init() {
	Register("console", func(cfg Config, logger *slog.Logger) (Channel, error) {
		if logger == nil {
			logger = slog.Default()
		}
		return &ConsoleChannel{name: cfg.Name, logger: logger}, nil
	})
	Register("file", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.Target == "" {
			return nil, fmt.Errorf("file channel %q: target path is required", cfg.Name)
		}
		return &FileChannel{name: cfg.Name, path: cfg.Target}, nil
	})
}

// DefaultTier returns the default minimum urgency for a channel type.
// Log-style channels accept medium-urgency alerts; everything else is
// reserved for high urgency to avoid alert fatigue.
func DefaultTier(channelType string) model.Urgency {
	switch channelType {
	case "console", "file":
		return model.UrgencyMedium
	default:
		return model.UrgencyHigh
	}
}

// ConsoleChannel logs the alert through the structured logger.
type ConsoleChannel struct {
	name   string
	logger *slog.Logger
}

func (c *ConsoleChannel) Name() string { return c.name }

func (c *ConsoleChannel) Send(_ context.Context, title, body string) error {
	c.logger.Warn("ALERT", "title", title, "body", body)
	return nil
}

// FileChannel appends alerts to a log file, one stamped line per alert.
type FileChannel struct {
	name string
	path string
	mu   sync.Mutex
}

func (c *FileChannel) Name() string { return c.name }

func (c *FileChannel) Send(_ context.Context, title, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return retry.Permanent(fmt.Errorf("open alert file: %w", err))
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "[%s] %s\n%s\n", time.Now().UTC().Format(time.RFC3339), title, body)
	return err
}
