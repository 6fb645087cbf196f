package monitor

import (
	"sync"
	"time"
)

// Stage names a step of the monitor cycle, used to tag errors and logs.
type Stage string

const (
	StageFetching    Stage = "fetching"
	StageFiltering   Stage = "filtering"
	StageDeduping    Stage = "deduping"
	StageClassifying Stage = "classifying"
	StageDispatching Stage = "dispatching"
	StagePersisting  Stage = "persisting"
)

// StageError records one failure with the stage it happened in. Operators
// diagnose cycles from these entries, never from a crash.
type StageError struct {
	Stage     Stage  `json:"stage"`
	MessageID string `json:"message_id,omitempty"`
	Cause     string `json:"cause"`
}

// RunSummary is the sole externally observable result of one cycle besides
// its side effects. It is ephemeral: produced, reported, discarded.
type RunSummary struct {
	RunID       string       `json:"run_id"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Candidates  int          `json:"candidates"`
	Filtered    int          `json:"filtered"`
	Skipped     int          `json:"skipped"` // dedup-skipped
	Alerted     int          `json:"alerted"`
	Errors      []StageError `json:"errors,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`

	mu sync.Mutex
}

// Failed reports whether the cycle aborted before processing candidates.
func (s *RunSummary) Failed() bool {
	for _, e := range s.Errors {
		if e.Stage == StageFetching {
			return true
		}
	}
	return false
}

func (s *RunSummary) addError(stage Stage, messageID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, StageError{Stage: stage, MessageID: messageID, Cause: err.Error()})
}

func (s *RunSummary) addSkipped() {
	s.mu.Lock()
	s.Skipped++
	s.mu.Unlock()
}

func (s *RunSummary) addAlerted() {
	s.mu.Lock()
	s.Alerted++
	s.mu.Unlock()
}
