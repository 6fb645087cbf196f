// Package monitor orchestrates one polling cycle: fetch candidates, filter
// by keyword rule, dedupe, classify, alert, persist.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/mail-sentinel/internal/classify"
	"github.com/rcliao/mail-sentinel/internal/dedup"
	"github.com/rcliao/mail-sentinel/internal/mail"
	"github.com/rcliao/mail-sentinel/internal/metrics"
	"github.com/rcliao/mail-sentinel/internal/model"
	"github.com/rcliao/mail-sentinel/internal/notify"
	"github.com/rcliao/mail-sentinel/internal/store"
)

// Options wires a Monitor.
type Options struct {
	Mail        mail.Client
	Store       store.Store
	Classifier  classify.Classifier // nil disables classification entirely
	Dispatcher  *notify.Dispatcher
	Rule        FilterRule
	Window      time.Duration // recency window per cycle
	Concurrency int           // parallel candidate pipelines
	Logger      *slog.Logger
}

// Monitor runs poll-classify-dedupe-alert cycles. It holds no per-cycle
// state and is safely re-entrant: an overlapping cycle at worst reclassifies
// an already-processed message (a dedup no-op) or, in the rare race on the
// marker write, sends a duplicate alert, which the dedup index tolerates.
type Monitor struct {
	mail        mail.Client
	store       store.Store
	dedup       *dedup.Index
	classifier  classify.Classifier
	dispatcher  *notify.Dispatcher
	rule        FilterRule
	window      time.Duration
	concurrency int
	logger      *slog.Logger
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		mail:        opts.Mail,
		store:       opts.Store,
		dedup:       dedup.New(opts.Store),
		classifier:  opts.Classifier,
		dispatcher:  opts.Dispatcher,
		rule:        opts.Rule,
		window:      window,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SetRule replaces the filter rule. Used by config hot reload between
// cycles; not safe to call while a cycle is running.
func (m *Monitor) SetRule(rule FilterRule) {
	m.rule = rule
}

// RunCycle executes one full cycle and returns its summary. A cycle never
// panics the process: fetch failures abort the cycle with a fetching-stage
// error, and every other failure is isolated to the candidate it hit.
//
// Delivery tradeoff: a candidate is marked processed even when every
// notification channel fails, so it will not be retried next cycle. The
// pipeline favors never alerting twice over guaranteed delivery.
func (m *Monitor) RunCycle(ctx context.Context) *RunSummary {
	now := time.Now().UTC()
	summary := &RunSummary{
		RunID:       uuid.NewString(),
		WindowStart: now.Add(-m.window),
		WindowEnd:   now,
		StartedAt:   now,
	}
	logger := m.logger.With("run_id", summary.RunID)

	defer func() {
		summary.FinishedAt = time.Now().UTC()
		metrics.CycleDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
		result := "ok"
		if summary.Failed() {
			result = "failed"
		}
		metrics.CyclesTotal.WithLabelValues(result).Inc()
		for _, e := range summary.Errors {
			metrics.StageErrors.WithLabelValues(string(e.Stage)).Inc()
		}
		logger.Info("cycle finished",
			"result", result,
			"candidates", summary.Candidates,
			"filtered", summary.Filtered,
			"skipped", summary.Skipped,
			"alerted", summary.Alerted,
			"errors", len(summary.Errors),
		)
	}()

	// Fetching. A failure here aborts the cycle; the next scheduled
	// invocation retries, not this one.
	logger.Debug("stage", "stage", StageFetching)
	messages, err := m.mail.Search(ctx, mail.Window{Start: summary.WindowStart, End: summary.WindowEnd})
	if err != nil {
		summary.addError(StageFetching, "", err)
		logger.Error("fetch failed, aborting cycle", "error", err)
		return summary
	}
	summary.Candidates = len(messages)
	metrics.CandidatesSeen.Add(float64(len(messages)))

	// Filtering. Pure predicate; also collapses duplicate IDs the provider
	// may hand back across pages.
	logger.Debug("stage", "stage", StageFiltering)
	type candidate struct {
		msg   mail.Message
		match MatchResult
	}
	var kept []candidate
	seen := map[string]bool{}
	for _, msg := range messages {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		match := m.rule.Match(msg)
		if !match.Keep {
			summary.Filtered++
			metrics.CandidatesFiltered.Inc()
			continue
		}
		kept = append(kept, candidate{msg: msg, match: match})
	}

	// Per-candidate pipelines are independent; run them in parallel under a
	// bounded limit so upstream rate limits are respected. Errors never
	// cancel siblings.
	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)
	for _, c := range kept {
		c := c
		g.Go(func() error {
			m.processCandidate(ctx, c.msg, c.match, summary, logger)
			return nil
		})
	}
	g.Wait()

	return summary
}

// processCandidate runs dedupe → classify → dispatch → persist for one
// message. Once persistence starts it runs to completion even if the cycle
// is being canceled, to avoid a half-alerted, half-marked state.
func (m *Monitor) processCandidate(ctx context.Context, msg mail.Message, match MatchResult, summary *RunSummary, logger *slog.Logger) {
	logger = logger.With("message_id", msg.ID)

	// Deduping: the at-most-once enforcement point.
	logger.Debug("stage", "stage", StageDeduping)
	processed, err := m.dedup.IsProcessed(ctx, msg.ID)
	if err != nil {
		summary.addError(StageDeduping, msg.ID, err)
		return
	}
	if processed {
		logger.Debug("already processed, skipping")
		summary.addSkipped()
		metrics.CandidatesDeduped.Inc()
		return
	}

	// Classifying. Unavailable or timed-out classifier degrades to
	// keyword-only urgency instead of aborting the candidate.
	logger.Debug("stage", "stage", StageClassifying)
	verdict, degraded := m.classify(ctx, msg, logger)

	urgency := model.UrgencyMedium
	if len(match.SecondaryHits) > 0 && verdict.Actionable {
		urgency = model.UrgencyHigh
	}

	ev := model.AlertEvent{
		MessageID: msg.ID,
		Subject:   msg.Subject,
		Sender:    msg.Sender,
		Timestamp: msg.Date,
		Verdict:   verdict,
		Urgency:   urgency,
	}

	// Dispatching. One channel succeeding is enough.
	logger.Debug("stage", "stage", StageDispatching, "urgency", urgency)
	outcomes := m.dispatcher.Send(ctx, ev)
	if notify.AnySent(outcomes) {
		summary.addAlerted()
		metrics.AlertsSent.WithLabelValues(string(urgency)).Inc()
	} else if len(outcomes) > 0 {
		summary.addError(StageDispatching, msg.ID, fmt.Errorf("all channels failed: %s", failedChannels(outcomes)))
	}

	// Persisting. Runs to completion regardless of cancellation and
	// regardless of dispatch outcome; see RunCycle's delivery tradeoff.
	logger.Debug("stage", "stage", StagePersisting)
	persistCtx := context.WithoutCancel(ctx)
	if _, err := m.dedup.MarkProcessed(persistCtx, ev, observationContent(msg, verdict, degraded)); err != nil {
		summary.addError(StagePersisting, msg.ID, err)
		return
	}
	if urgency == model.UrgencyHigh {
		if err := m.recordLearning(persistCtx, ev, match); err != nil {
			summary.addError(StagePersisting, msg.ID, err)
		}
	}
}

// classify calls the classifier gateway with context hints retrieved from
// memory. Returns a zero verdict and degraded=true when no classifier
// signal is available.
func (m *Monitor) classify(ctx context.Context, msg mail.Message, logger *slog.Logger) (model.Verdict, bool) {
	if m.classifier == nil {
		return model.Verdict{}, true
	}

	verdict, err := m.classifier.Classify(ctx, classifierInput(msg), m.contextHints(ctx, msg))
	if err != nil {
		if errors.Is(err, classify.ErrUnavailable) {
			logger.Warn("classifier unavailable, falling back to keyword urgency", "error", err)
		} else {
			logger.Warn("classification failed", "error", err)
		}
		return model.Verdict{}, true
	}
	return verdict, false
}

// contextHints pulls the most relevant prior learnings for the message so
// the classifier sees what past cycles concluded. Best-effort: a failed
// search just means no hints.
func (m *Monitor) contextHints(ctx context.Context, msg mail.Message) []string {
	results, err := m.store.Search(ctx, store.SearchParams{
		Query: msg.Subject,
		K:     3,
		Kind:  model.KindLearning,
	})
	if err != nil {
		return nil
	}
	hints := make([]string, 0, len(results))
	for _, r := range results {
		hints = append(hints, r.Content)
	}
	return hints
}

func (m *Monitor) recordLearning(ctx context.Context, ev model.AlertEvent, match MatchResult) error {
	_, err := m.store.Put(ctx, store.PutParams{
		Content:    fmt.Sprintf("Actionable email detected from %s: %s", ev.Sender, ev.Subject),
		Kind:       model.KindLearning,
		Importance: 1.0,
		Metadata: map[string]string{
			"message_id":     ev.MessageID,
			"sender":         ev.Sender,
			"primary_hits":   strings.Join(match.PrimaryHits, ", "),
			"secondary_hits": strings.Join(match.SecondaryHits, ", "),
		},
	})
	if err != nil {
		return fmt.Errorf("record learning: %w", err)
	}
	return nil
}

func classifierInput(msg mail.Message) string {
	body := msg.Body
	if len(body) > 2000 {
		body = body[:2000]
	}
	return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\n\n%s",
		msg.Sender, msg.Subject, msg.Date.Format(time.RFC1123), body)
}

func observationContent(msg mail.Message, verdict model.Verdict, degraded bool) string {
	excerpt := msg.Body
	if len(excerpt) > 500 {
		excerpt = excerpt[:500]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Processed email %s from %s: %s\n", msg.ID, msg.Sender, msg.Subject)
	if degraded {
		b.WriteString("Verdict: keyword match only (classifier unavailable)\n")
	} else {
		fmt.Fprintf(&b, "Verdict: %s (actionable=%t)\n", verdict.Text, verdict.Actionable)
	}
	b.WriteString(excerpt)
	return b.String()
}

func failedChannels(outcomes map[string]notify.Outcome) string {
	var names []string
	for name, o := range outcomes {
		if !o.Sent {
			names = append(names, fmt.Sprintf("%s (%s)", name, o.Cause))
		}
	}
	return strings.Join(names, "; ")
}
