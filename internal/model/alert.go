package model

import "time"

// Urgency is an alert's priority tier. It decides which notification
// channels receive the alert.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
)

// Admits reports whether an alert of urgency o may reach a channel whose
// configured minimum tier is u. High-urgency alerts reach everything;
// medium-urgency alerts reach only channels that accept medium.
func (u Urgency) Admits(o Urgency) bool {
	if u == UrgencyMedium {
		return true
	}
	return o == UrgencyHigh
}

// Verdict is the classifier's judgment of a candidate message.
type Verdict struct {
	Text       string `json:"text"`
	Actionable bool   `json:"actionable"`
}

// AlertEvent is built per qualifying candidate and consumed by the
// notification dispatcher. It is not persisted directly; only the resulting
// memory entry is.
type AlertEvent struct {
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Verdict   Verdict   `json:"verdict"`
	Urgency   Urgency   `json:"urgency"`
}
