package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultGmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// GmailClient fetches messages through the Gmail REST API using a bearer
// token supplied by the host.
type GmailClient struct {
	baseURL    string
	token      string
	domains    []string
	maxResults int
	client     *http.Client
}

// GmailOptions configures a GmailClient.
type GmailOptions struct {
	BaseURL    string   // override for tests; defaults to the public API
	Token      string   // OAuth bearer token, already issued
	Domains    []string // sender domains folded into the search query
	MaxResults int      // per-fetch cap; defaults to 50
	Timeout    time.Duration
}

// NewGmailClient creates a Gmail-backed mail client.
func NewGmailClient(opts GmailOptions) *GmailClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultGmailBaseURL
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GmailClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      opts.Token,
		domains:    opts.Domains,
		maxResults: maxResults,
		client:     &http.Client{Timeout: timeout},
	}
}

type gmailList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []gmailHeader `json:"headers"`
		gmailPart
	} `json:"payload"`
}

// Search lists messages matching the sender-domain query within the window
// and fetches each one's headers and body text.
func (c *GmailClient) Search(ctx context.Context, w Window) ([]Message, error) {
	ids, err := c.list(ctx, c.buildQuery(w))
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, err := c.fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch message %s: %w", id, err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// buildQuery renders a Gmail search expression like
// "(from:nintendo.com OR from:nintendo.net) after:1693526400 before:1693612800".
// Epoch-second bounds keep the window precise.
func (c *GmailClient) buildQuery(w Window) string {
	var parts []string
	if len(c.domains) > 0 {
		froms := make([]string, len(c.domains))
		for i, d := range c.domains {
			froms[i] = "from:" + d
		}
		parts = append(parts, "("+strings.Join(froms, " OR ")+")")
	}
	if !w.Start.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", w.Start.Unix()))
	}
	if !w.End.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", w.End.Unix()))
	}
	return strings.Join(parts, " ")
}

func (c *GmailClient) list(ctx context.Context, query string) ([]string, error) {
	u := fmt.Sprintf("%s/users/me/messages?q=%s&maxResults=%d",
		c.baseURL, url.QueryEscape(query), c.maxResults)

	var result gmailList
	if err := c.getJSON(ctx, u, &result); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, len(result.Messages))
	for i, m := range result.Messages {
		ids[i] = m.ID
	}
	return ids, nil
}

func (c *GmailClient) fetch(ctx context.Context, id string) (Message, error) {
	u := fmt.Sprintf("%s/users/me/messages/%s?format=full", c.baseURL, url.PathEscape(id))

	var gm gmailMessage
	if err := c.getJSON(ctx, u, &gm); err != nil {
		return Message{}, err
	}

	m := Message{ID: gm.ID}
	for _, h := range gm.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			m.Subject = h.Value
		case "from":
			m.Sender = h.Value
		}
	}
	if ms, err := strconv.ParseInt(gm.InternalDate, 10, 64); err == nil {
		m.Date = time.UnixMilli(ms).UTC()
	}
	m.Body = extractText(gm.Payload.gmailPart)
	if m.Body == "" {
		m.Body = gm.Snippet
	}
	return m, nil
}

func (c *GmailClient) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gmail error %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// extractText walks the part tree for the first text/plain body. Gmail hands
// back structured JSON parts, not raw MIME.
func extractText(p gmailPart) string {
	if p.MimeType == "text/plain" && p.Body.Data != "" {
		if b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			return string(b)
		}
	}
	for _, child := range p.Parts {
		if text := extractText(child); text != "" {
			return text
		}
	}
	return ""
}
