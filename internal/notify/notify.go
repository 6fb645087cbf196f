// Package notify fans alerts out to configured notification channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rcliao/mail-sentinel/internal/model"
	"github.com/rcliao/mail-sentinel/internal/retry"
)

// Channel delivers one alert to one destination. Implementations hold their
// own target (URL, file path, phone number) from configuration.
type Channel interface {
	Name() string
	Send(ctx context.Context, title, body string) error
}

// Outcome reports one channel's delivery result.
type Outcome struct {
	Sent     bool   `json:"sent"`
	Attempts int    `json:"attempts"`
	Cause    string `json:"cause,omitempty"`
}

// AnySent reports whether at least one channel delivered. One success is
// sufficient to consider the event handled.
func AnySent(outcomes map[string]Outcome) bool {
	for _, o := range outcomes {
		if o.Sent {
			return true
		}
	}
	return false
}

type tiered struct {
	ch  Channel
	min model.Urgency
}

// Dispatcher sends an alert through every admitted channel independently.
// A failure on one channel never blocks another.
type Dispatcher struct {
	policy   retry.Policy
	logger   *slog.Logger
	channels []tiered
}

// NewDispatcher creates a dispatcher applying the given retry policy to each
// channel attempt.
func NewDispatcher(policy retry.Policy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{policy: policy, logger: logger}
}

// Add registers a channel with the minimum urgency tier it accepts.
func (d *Dispatcher) Add(ch Channel, min model.Urgency) {
	if min == "" {
		min = model.UrgencyHigh
	}
	d.channels = append(d.channels, tiered{ch: ch, min: min})
}

// Close releases channels that hold connections (e.g. NATS).
func (d *Dispatcher) Close() {
	for _, t := range d.channels {
		if c, ok := t.ch.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Channels returns the names of all registered channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, t := range d.channels {
		names[i] = t.ch.Name()
	}
	return names
}

// Send delivers the event to every channel whose tier admits its urgency.
// Channels run concurrently; each transient failure is retried per the
// policy, permanent failures are reported immediately. The outcome map is
// complete even under partial failure.
func (d *Dispatcher) Send(ctx context.Context, ev model.AlertEvent) map[string]Outcome {
	title, body := formatAlert(ev)

	outcomes := make(map[string]Outcome, len(d.channels))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, t := range d.channels {
		if !t.min.Admits(ev.Urgency) {
			continue
		}
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()

			attempts := 0
			err := d.policy.Do(ctx, func() error {
				attempts++
				return ch.Send(ctx, title, body)
			})

			o := Outcome{Sent: err == nil, Attempts: attempts}
			if err != nil {
				o.Cause = err.Error()
				d.logger.Warn("notification failed",
					"channel", ch.Name(), "message_id", ev.MessageID,
					"attempts", attempts, "error", err)
			} else {
				d.logger.Info("notification sent",
					"channel", ch.Name(), "message_id", ev.MessageID)
			}

			mu.Lock()
			outcomes[ch.Name()] = o
			mu.Unlock()
		}(t.ch)
	}

	wg.Wait()
	return outcomes
}

func formatAlert(ev model.AlertEvent) (title, body string) {
	title = fmt.Sprintf("[%s] %s", strings.ToUpper(string(ev.Urgency)), ev.Subject)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", ev.Sender)
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", ev.Timestamp.Format("2006-01-02 15:04 MST"))
	}
	if ev.Verdict.Text != "" {
		fmt.Fprintf(&b, "Analysis: %s\n", ev.Verdict.Text)
	}
	body = b.String()
	return title, body
}
