// Package cli implements the mail-sentinel CLI commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/mail-sentinel/internal/classify"
	"github.com/rcliao/mail-sentinel/internal/config"
	"github.com/rcliao/mail-sentinel/internal/embedding"
	"github.com/rcliao/mail-sentinel/internal/mail"
	"github.com/rcliao/mail-sentinel/internal/monitor"
	"github.com/rcliao/mail-sentinel/internal/notify"
	"github.com/rcliao/mail-sentinel/internal/retry"
	"github.com/rcliao/mail-sentinel/internal/store"
)

var (
	configPath string
	dbPath     string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "mail-sentinel",
	Short: "Mailbox monitor with persistent semantic memory",
	Long: "Polls a mailbox for messages matching a keyword rule, classifies them,\n" +
		"dedupes against persistent semantic memory, and alerts through configured\n" +
		"channels exactly once per qualifying message.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: $MAIL_SENTINEL_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Memory database path override")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("MAIL_SENTINEL_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func newEmbedder(cfg config.EmbeddingConfig) embedding.Embedder {
	if cfg.Provider == "openai" {
		return embedding.NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims)
	}
	return embedding.NewOllamaEmbedder(cfg.BaseURL, cfg.Model)
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Store.Path, newEmbedder(cfg.Embedding))
}

func newDispatcher(cfg *config.Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	d := notify.NewDispatcher(retry.Policy{
		MaxAttempts: cfg.Monitor.Retry.MaxAttempts,
		BaseDelay:   cfg.Monitor.Retry.BaseDelay,
		MaxDelay:    cfg.Monitor.Retry.MaxDelay,
	}, logger)

	for _, chCfg := range cfg.Channels {
		ch, err := notify.Create(chCfg, logger)
		if err != nil {
			return nil, err
		}
		min := chCfg.MinUrgency
		if min == "" {
			min = notify.DefaultTier(chCfg.Type)
		}
		d.Add(ch, min)
	}
	return d, nil
}

func newMonitor(cfg *config.Config, s store.Store, d *notify.Dispatcher, logger *slog.Logger) *monitor.Monitor {
	var classifier classify.Classifier
	if cfg.Classifier.Enabled {
		classifier = classify.NewOpenAIClassifier(classify.Options{
			BaseURL: cfg.Classifier.BaseURL,
			APIKey:  cfg.Classifier.APIKey,
			Model:   cfg.Classifier.Model,
			Timeout: cfg.Classifier.Timeout,
			RPS:     cfg.Classifier.RPS,
		})
	}

	mailClient := mail.NewGmailClient(mail.GmailOptions{
		BaseURL:    cfg.Mail.BaseURL,
		Token:      cfg.Mail.Token,
		Domains:    cfg.Filter.Domains,
		MaxResults: cfg.Mail.MaxResults,
		Timeout:    cfg.Mail.Timeout,
	})

	return monitor.New(monitor.Options{
		Mail:       mailClient,
		Store:      s,
		Classifier: classifier,
		Dispatcher: d,
		Rule: monitor.FilterRule{
			Domains:   cfg.Filter.Domains,
			Primary:   cfg.Filter.PrimaryKeywords,
			Secondary: cfg.Filter.SecondaryKeywords,
		},
		Window:      cfg.Mail.Window,
		Concurrency: cfg.Monitor.Concurrency,
		Logger:      logger,
	})
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
