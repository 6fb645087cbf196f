// Package mail defines the mail-provider contract and a Gmail REST client.
//
// Authentication is out of scope: the client takes an already-issued bearer
// token and never runs an OAuth flow.
package mail

import (
	"context"
	"time"
)

// Message is a candidate message fetched from the provider. ID is globally
// stable and serves as the dedup key.
type Message struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Sender  string    `json:"sender"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}

// Window bounds a fetch query in time.
type Window struct {
	Start time.Time
	End   time.Time
}

// Client searches the mailbox for messages within a time window. The
// configured sender domains are part of the client's query, not a parameter;
// the monitor re-checks them during filtering regardless.
type Client interface {
	Search(ctx context.Context, w Window) ([]Message, error)
}
