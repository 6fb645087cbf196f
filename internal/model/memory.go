// Package model defines the core memory and alert data types.
package model

import "time"

// Kind classifies what a memory entry records.
type Kind string

const (
	KindObservation Kind = "observation"
	KindAction      Kind = "action"
	KindGoal        Kind = "goal"
	KindReflection  Kind = "reflection"
	KindLearning    Kind = "learning"
	KindContext     Kind = "context"
)

// ValidKinds are the allowed memory kinds.
var ValidKinds = map[Kind]bool{
	KindObservation: true,
	KindAction:      true,
	KindGoal:        true,
	KindReflection:  true,
	KindLearning:    true,
	KindContext:     true,
}

// MetaProcessedMessageID is the metadata key that marks an observation as the
// processed-marker for an external mail message. The presence of such a marker
// is the sole source of truth for "already alerted".
const MetaProcessedMessageID = "processed_message_id"

// Entry represents a stored memory entry. Entries are append-only: they are
// never mutated in place, corrections are modeled as new entries.
type Entry struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Kind       Kind              `json:"kind"`
	Importance float64           `json:"importance"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Embedding  []float32         `json:"-"`
}

// ClampImportance clamps an importance score to [0, 1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
