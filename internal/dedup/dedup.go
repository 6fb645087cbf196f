// Package dedup decides "already processed" for external mail messages.
//
// It is a view over the memory store, not a separate storage tier: a message
// is processed iff an observation entry exists whose metadata carries its
// message ID. Keeping the store as the single source of truth avoids
// divergence between a cache and the store.
package dedup

import (
	"context"
	"fmt"

	"github.com/rcliao/mail-sentinel/internal/model"
	"github.com/rcliao/mail-sentinel/internal/store"
)

// Index answers processed-marker queries against the memory store.
type Index struct {
	store store.Store
}

// New creates a dedup index backed by s.
func New(s store.Store) *Index {
	return &Index{store: s}
}

// IsProcessed reports whether a marker exists for the message ID. Duplicate
// markers (possible under a rare concurrent-cycle race) collapse to true.
func (i *Index) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	markers, err := i.markers(ctx, messageID, 1)
	if err != nil {
		return false, err
	}
	return len(markers) > 0, nil
}

// MarkProcessed writes the processed-marker observation for the event's
// message, with content capturing the candidate and verdict. It is
// idempotent: if a marker already exists the call is a no-op. The marker
// lookup immediately before the write is authoritative; a race that still
// produces a duplicate marker is tolerated and collapsed at read time,
// never treated as fatal.
func (i *Index) MarkProcessed(ctx context.Context, ev model.AlertEvent, content string) (*model.Entry, error) {
	markers, err := i.markers(ctx, ev.MessageID, 1)
	if err != nil {
		return nil, err
	}
	if len(markers) > 0 {
		return &markers[0], nil
	}

	if content == "" {
		content = fmt.Sprintf("Processed email %s: %s", ev.MessageID, ev.Subject)
	}
	entry, err := i.store.Put(ctx, store.PutParams{
		Content:    content,
		Kind:       model.KindObservation,
		Importance: 0.3,
		Metadata: map[string]string{
			model.MetaProcessedMessageID: ev.MessageID,
			"sender":                     ev.Sender,
			"subject":                    ev.Subject,
			"urgency":                    string(ev.Urgency),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("write marker: %w", err)
	}
	return entry, nil
}

func (i *Index) markers(ctx context.Context, messageID string, limit int) ([]model.Entry, error) {
	entries, err := i.store.List(ctx, store.ListParams{
		Kind:     model.KindObservation,
		Metadata: map[string]string{model.MetaProcessedMessageID: messageID},
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup marker: %w", err)
	}
	return entries, nil
}
