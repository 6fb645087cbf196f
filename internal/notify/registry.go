package notify

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rcliao/mail-sentinel/internal/model"
)

// Config is the wiring for one configured channel. Which fields matter
// depends on the type; factories validate what they need.
type Config struct {
	Name       string        `yaml:"name"`
	Type       string        `yaml:"type"`
	Target     string        `yaml:"target"`  // URL, file path, NATS server URL
	Token      string        `yaml:"token"`   // API token / auth token
	User       string        `yaml:"user"`    // account SID, user key
	From       string        `yaml:"from"`    // sender phone number
	To         string        `yaml:"to"`      // recipient phone number
	Subject    string        `yaml:"subject"` // NATS subject
	MinUrgency model.Urgency `yaml:"min_urgency"`
}

// Factory builds a channel from configuration.
type Factory func(cfg Config, logger *slog.Logger) (Channel, error)

var (
	registry   = make(map[string]Factory)
	registryMu sync.RWMutex
)

// Register registers a channel factory under a config type name. Called from
// init functions of the channel implementations.
func Register(channelType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[channelType] = factory
}

// Create builds a channel instance from configuration.
func Create(cfg Config, logger *slog.Logger) (Channel, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown channel type: %s (available: %v)", cfg.Type, List())
	}
	return factory(cfg, logger)
}

// List returns all registered channel type names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
