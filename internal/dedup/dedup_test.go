package dedup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rcliao/mail-sentinel/internal/embedding"
	"github.com/rcliao/mail-sentinel/internal/model"
	"github.com/rcliao/mail-sentinel/internal/store"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return embedding.Vector{1, 0, 0}, nil
}

func (stubEmbedder) Dims() int { return 3 }

func newTestIndex(t *testing.T) (*Index, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), stubEmbedder{})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func testEvent(id string) model.AlertEvent {
	return model.AlertEvent{
		MessageID: id,
		Subject:   "Your order shipped",
		Sender:    "store@example.com",
		Urgency:   model.UrgencyHigh,
	}
}

func TestIsProcessedEmptyStore(t *testing.T) {
	idx, _ := newTestIndex(t)

	ok, err := idx.IsProcessed(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if ok {
		t.Error("expected unprocessed in empty store")
	}
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	entry, err := idx.MarkProcessed(ctx, testEvent("msg-1"), "Processed: order shipped")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if entry.Kind != model.KindObservation {
		t.Errorf("expected observation marker, got %q", entry.Kind)
	}
	if entry.Metadata[model.MetaProcessedMessageID] != "msg-1" {
		t.Errorf("marker missing message ID: %v", entry.Metadata)
	}
	if entry.Metadata["urgency"] != "high" {
		t.Errorf("marker missing urgency: %v", entry.Metadata)
	}

	ok, err := idx.IsProcessed(ctx, "msg-1")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if !ok {
		t.Error("expected processed after marking")
	}

	// Other messages stay unprocessed.
	ok, _ = idx.IsProcessed(ctx, "msg-2")
	if ok {
		t.Error("unrelated message reported processed")
	}
}

func TestMarkProcessedIdempotent(t *testing.T) {
	ctx := context.Background()
	idx, s := newTestIndex(t)

	first, err := idx.MarkProcessed(ctx, testEvent("msg-1"), "")
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	second, err := idx.MarkProcessed(ctx, testEvent("msg-1"), "")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same marker returned, got %s then %s", first.ID, second.ID)
	}

	st, _ := s.Stats(ctx)
	if st.Count != 1 {
		t.Errorf("expected exactly one marker, got %d entries", st.Count)
	}
}

func TestMarkProcessedDefaultContent(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	entry, err := idx.MarkProcessed(ctx, testEvent("msg-1"), "")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if entry.Content == "" {
		t.Error("expected generated marker content")
	}
}
