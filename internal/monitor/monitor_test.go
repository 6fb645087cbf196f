package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/mail-sentinel/internal/classify"
	"github.com/rcliao/mail-sentinel/internal/embedding"
	"github.com/rcliao/mail-sentinel/internal/mail"
	"github.com/rcliao/mail-sentinel/internal/model"
	"github.com/rcliao/mail-sentinel/internal/notify"
	"github.com/rcliao/mail-sentinel/internal/retry"
	"github.com/rcliao/mail-sentinel/internal/store"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return embedding.Vector{1, 0, 0}, nil
}

func (stubEmbedder) Dims() int { return 3 }

type fakeMail struct {
	msgs []mail.Message
	err  error
}

func (f *fakeMail) Search(ctx context.Context, w mail.Window) ([]mail.Message, error) {
	return f.msgs, f.err
}

type fakeClassifier struct {
	verdict model.Verdict
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, hints []string) (model.Verdict, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.verdict, f.err
}

type recordChannel struct {
	name string
	fail error

	mu     sync.Mutex
	titles []string
}

func (c *recordChannel) Name() string { return c.name }

func (c *recordChannel) Send(ctx context.Context, title, body string) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	c.titles = append(c.titles, title)
	c.mu.Unlock()
	return nil
}

func (c *recordChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...)
}

func newTestStoreM(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), stubEmbedder{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testRule() FilterRule {
	return FilterRule{
		Domains:   []string{"nintendo.com"},
		Primary:   []string{"nintendo", "switch"},
		Secondary: []string{"invitation", "purchase"},
	}
}

func inviteMessage() mail.Message {
	return mail.Message{
		ID:      "msg-invite-1",
		Subject: "Your Nintendo Switch 2 invitation",
		Sender:  "Nintendo <no-reply@accounts.nintendo.com>",
		Date:    time.Now().Add(-time.Hour),
		Body:    "You have been selected. Complete your purchase within 72 hours.",
	}
}

func newTestMonitor(t *testing.T, mc mail.Client, s store.Store, cl classify.Classifier, channels ...*notify.Dispatcher) *Monitor {
	t.Helper()
	var d *notify.Dispatcher
	if len(channels) > 0 {
		d = channels[0]
	} else {
		d = notify.NewDispatcher(retry.Policy{MaxAttempts: 1}, quietLogger())
	}
	return New(Options{
		Mail:        mc,
		Store:       s,
		Classifier:  cl,
		Dispatcher:  d,
		Rule:        testRule(),
		Window:      24 * time.Hour,
		Concurrency: 2,
		Logger:      quietLogger(),
	})
}

func TestRunCycleAlertsOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{msgs: []mail.Message{inviteMessage()}}
	cl := &fakeClassifier{verdict: model.Verdict{Text: "Purchase invitation, act now", Actionable: true}}

	ch := &recordChannel{name: "console"}
	d := notify.NewDispatcher(retry.Policy{MaxAttempts: 1}, quietLogger())
	d.Add(ch, model.UrgencyMedium)

	m := newTestMonitor(t, mc, s, cl, d)

	first := m.RunCycle(ctx)
	require.Empty(t, first.Errors)
	assert.Equal(t, 1, first.Candidates)
	assert.Equal(t, 1, first.Alerted)
	assert.Equal(t, 0, first.Skipped)
	require.Len(t, ch.sent(), 1)
	assert.Equal(t, "[HIGH] Your Nintendo Switch 2 invitation", ch.sent()[0])

	// Same message again: dedup skips before classification or dispatch.
	second := m.RunCycle(ctx)
	require.Empty(t, second.Errors)
	assert.Equal(t, 0, second.Alerted)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, ch.sent(), 1)
	cl.mu.Lock()
	assert.Equal(t, 1, cl.calls)
	cl.mu.Unlock()
}

func TestRunCyclePersistsMarkerAndLearning(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{msgs: []mail.Message{inviteMessage()}}
	cl := &fakeClassifier{verdict: model.Verdict{Text: "Actionable", Actionable: true}}

	m := newTestMonitor(t, mc, s, cl)
	summary := m.RunCycle(ctx)
	require.Empty(t, summary.Errors)

	markers, err := s.List(ctx, store.ListParams{
		Kind:     model.KindObservation,
		Metadata: map[string]string{model.MetaProcessedMessageID: "msg-invite-1"},
	})
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Contains(t, markers[0].Content, "msg-invite-1")
	assert.Contains(t, markers[0].Content, "Actionable")

	learnings, err := s.List(ctx, store.ListParams{Kind: model.KindLearning})
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	assert.Equal(t, 1.0, learnings[0].Importance)
	assert.Equal(t, "msg-invite-1", learnings[0].Metadata["message_id"])
	assert.Contains(t, learnings[0].Metadata["secondary_hits"], "invitation")
}

func TestRunCycleFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{msgs: []mail.Message{
		inviteMessage(),
		{ID: "msg-2", Subject: "Nintendo Switch restock", Sender: "deals@spam.example.com", Body: "buy now"},
		{ID: "msg-3", Subject: "Account statement", Sender: "no-reply@nintendo.com", Body: "monthly summary"},
	}}
	cl := &fakeClassifier{verdict: model.Verdict{Actionable: true}}

	m := newTestMonitor(t, mc, s, cl)
	summary := m.RunCycle(ctx)

	require.Empty(t, summary.Errors)
	assert.Equal(t, 3, summary.Candidates)
	assert.Equal(t, 2, summary.Filtered)

	// Only the kept message got a marker.
	markers, _ := s.List(ctx, store.ListParams{Kind: model.KindObservation})
	require.Len(t, markers, 1)
	assert.Equal(t, "msg-invite-1", markers[0].Metadata[model.MetaProcessedMessageID])
}

func TestRunCycleDuplicateIDsCollapsed(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	msg := inviteMessage()
	mc := &fakeMail{msgs: []mail.Message{msg, msg}}
	cl := &fakeClassifier{verdict: model.Verdict{Actionable: true}}

	ch := &recordChannel{name: "console"}
	d := notify.NewDispatcher(retry.Policy{MaxAttempts: 1}, quietLogger())
	d.Add(ch, model.UrgencyMedium)

	m := newTestMonitor(t, mc, s, cl, d)
	summary := m.RunCycle(ctx)

	require.Empty(t, summary.Errors)
	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 1, summary.Alerted)
	assert.Len(t, ch.sent(), 1)
}

func TestUrgencyTiering(t *testing.T) {
	tests := []struct {
		name       string
		subject    string
		body       string
		actionable bool
		want       model.Urgency
	}{
		{
			name:       "secondary hit and actionable is high",
			subject:    "Nintendo Switch 2 invitation",
			body:       "complete your purchase",
			actionable: true,
			want:       model.UrgencyHigh,
		},
		{
			name:       "secondary hit without actionable stays medium",
			subject:    "Nintendo Switch 2 invitation",
			body:       "no action needed",
			actionable: false,
			want:       model.UrgencyMedium,
		},
		{
			name:       "actionable without secondary stays medium",
			subject:    "Nintendo Switch news",
			body:       "read our latest update",
			actionable: true,
			want:       model.UrgencyMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStoreM(t)
			mc := &fakeMail{msgs: []mail.Message{{
				ID:      "msg-1",
				Subject: tt.subject,
				Sender:  "no-reply@nintendo.com",
				Date:    time.Now(),
				Body:    tt.body,
			}}}
			cl := &fakeClassifier{verdict: model.Verdict{Actionable: tt.actionable}}

			highOnly := &recordChannel{name: "sms"}
			anyTier := &recordChannel{name: "console"}
			d := notify.NewDispatcher(retry.Policy{MaxAttempts: 1}, quietLogger())
			d.Add(highOnly, model.UrgencyHigh)
			d.Add(anyTier, model.UrgencyMedium)

			m := newTestMonitor(t, mc, s, cl, d)
			summary := m.RunCycle(ctx)
			require.Empty(t, summary.Errors)

			require.Len(t, anyTier.sent(), 1)
			wantPrefix := "[" + strings.ToUpper(string(tt.want)) + "]"
			assert.True(t, strings.HasPrefix(anyTier.sent()[0], wantPrefix),
				"title %q should start with %q", anyTier.sent()[0], wantPrefix)

			if tt.want == model.UrgencyHigh {
				assert.Len(t, highOnly.sent(), 1)
			} else {
				assert.Empty(t, highOnly.sent())
			}

			// Learning entries are recorded for high urgency only.
			learnings, _ := s.List(ctx, store.ListParams{Kind: model.KindLearning})
			if tt.want == model.UrgencyHigh {
				assert.Len(t, learnings, 1)
			} else {
				assert.Empty(t, learnings)
			}
		})
	}
}

func TestClassifierUnavailableDegrades(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{msgs: []mail.Message{inviteMessage()}}
	cl := &fakeClassifier{err: fmt.Errorf("%w: timeout", classify.ErrUnavailable)}

	ch := &recordChannel{name: "console"}
	d := notify.NewDispatcher(retry.Policy{MaxAttempts: 1}, quietLogger())
	d.Add(ch, model.UrgencyMedium)

	m := newTestMonitor(t, mc, s, cl, d)
	summary := m.RunCycle(ctx)

	// Degradation is not an error: the candidate proceeds at keyword-only
	// medium urgency.
	require.Empty(t, summary.Errors)
	assert.Equal(t, 1, summary.Alerted)
	require.Len(t, ch.sent(), 1)
	assert.True(t, strings.HasPrefix(ch.sent()[0], "[MEDIUM]"), "got %q", ch.sent()[0])

	markers, _ := s.List(ctx, store.ListParams{Kind: model.KindObservation})
	require.Len(t, markers, 1)
	assert.Contains(t, markers[0].Content, "classifier unavailable")
}

func TestNilClassifierDegrades(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{msgs: []mail.Message{inviteMessage()}}

	ch := &recordChannel{name: "console"}
	d := notify.NewDispatcher(retry.Policy{MaxAttempts: 1}, quietLogger())
	d.Add(ch, model.UrgencyMedium)

	m := newTestMonitor(t, mc, s, nil, d)
	summary := m.RunCycle(ctx)

	require.Empty(t, summary.Errors)
	require.Len(t, ch.sent(), 1)
	assert.True(t, strings.HasPrefix(ch.sent()[0], "[MEDIUM]"))
}

func TestAllChannelsFailStillMarksProcessed(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{msgs: []mail.Message{inviteMessage()}}
	cl := &fakeClassifier{verdict: model.Verdict{Actionable: true}}

	ch := &recordChannel{name: "webhook", fail: fmt.Errorf("connection refused")}
	d := notify.NewDispatcher(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, quietLogger())
	d.Add(ch, model.UrgencyMedium)

	m := newTestMonitor(t, mc, s, cl, d)
	summary := m.RunCycle(ctx)

	require.Len(t, summary.Errors, 1)
	assert.Equal(t, StageDispatching, summary.Errors[0].Stage)
	assert.Equal(t, 0, summary.Alerted)

	// The marker is written anyway, so the next cycle will not re-alert.
	ok, err := s.List(ctx, store.ListParams{
		Kind:     model.KindObservation,
		Metadata: map[string]string{model.MetaProcessedMessageID: "msg-invite-1"},
	})
	require.NoError(t, err)
	require.Len(t, ok, 1)

	second := m.RunCycle(ctx)
	assert.Equal(t, 1, second.Skipped)
	assert.Empty(t, second.Errors)
}

func TestCandidateIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{msgs: []mail.Message{
		inviteMessage(),
		{
			ID:      "msg-2",
			Subject: "Nintendo Switch 2 purchase window",
			Sender:  "no-reply@nintendo.com",
			Date:    time.Now(),
			Body:    "your invitation expires soon",
		},
	}}
	cl := &fakeClassifier{verdict: model.Verdict{Actionable: true}}

	// One channel fails on a specific message, the other delivers everything.
	failing := &selectiveChannel{name: "flaky", failFor: "msg-invite-1"}
	d := notify.NewDispatcher(retry.Policy{MaxAttempts: 1}, quietLogger())
	d.Add(failing, model.UrgencyMedium)

	m := newTestMonitor(t, mc, s, cl, d)
	summary := m.RunCycle(ctx)

	// The failing candidate reports a dispatch error, the healthy one alerts,
	// and both end up marked processed.
	assert.Equal(t, 1, summary.Alerted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "msg-invite-1", summary.Errors[0].MessageID)

	markers, _ := s.List(ctx, store.ListParams{Kind: model.KindObservation})
	assert.Len(t, markers, 2)
}

// selectiveChannel fails only for alerts about one message, keyed by the
// message subject embedded in the title.
type selectiveChannel struct {
	name    string
	failFor string

	mu     sync.Mutex
	titles []string
}

func (c *selectiveChannel) Name() string { return c.name }

func (c *selectiveChannel) Send(ctx context.Context, title, body string) error {
	if c.failFor == "msg-invite-1" && strings.Contains(title, "invitation") {
		return fmt.Errorf("delivery failed")
	}
	c.mu.Lock()
	c.titles = append(c.titles, title)
	c.mu.Unlock()
	return nil
}

func TestFetchErrorAbortsCycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreM(t)
	mc := &fakeMail{err: fmt.Errorf("gmail: 503")}
	cl := &fakeClassifier{}

	m := newTestMonitor(t, mc, s, cl)
	summary := m.RunCycle(ctx)

	assert.True(t, summary.Failed())
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, StageFetching, summary.Errors[0].Stage)
	assert.Equal(t, 0, summary.Candidates)
}

func TestRunSummaryWindow(t *testing.T) {
	s := newTestStoreM(t)
	mc := &fakeMail{}
	m := newTestMonitor(t, mc, s, nil)

	summary := m.RunCycle(context.Background())
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 24*time.Hour, summary.WindowEnd.Sub(summary.WindowStart))
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}
