// Package classify adapts an external LLM into an importance classifier.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcliao/mail-sentinel/internal/model"
)

// ErrUnavailable is returned when the upstream classifier cannot be reached
// or does not answer within the timeout. Callers degrade to keyword-only
// urgency instead of aborting.
var ErrUnavailable = errors.New("classifier unavailable")

// Classifier judges a message's importance. Stateless from the caller's
// perspective.
type Classifier interface {
	Classify(ctx context.Context, text string, hints []string) (model.Verdict, error)
}

// OpenAIClassifier calls an OpenAI-compatible chat-completions endpoint.
type OpenAIClassifier struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	client  *http.Client
}

// Options configures an OpenAIClassifier.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration // per-call bound; a timeout counts as unavailable
	RPS     float64       // upstream rate limit; 0 disables limiting
}

// NewOpenAIClassifier creates a classifier against an OpenAI-compatible API.
func NewOpenAIClassifier(opts Options) *OpenAIClassifier {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	mdl := opts.Model
	if mdl == "" {
		mdl = "gpt-4o-mini"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return &OpenAIClassifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  opts.APIKey,
		model:   mdl,
		timeout: timeout,
		limiter: limiter,
		client:  &http.Client{Timeout: timeout},
	}
}

const systemPrompt = `You monitor a mailbox for messages that may require immediate action,
such as product availability or pre-order announcements. Given a message and
optional notes from prior observations, answer with a JSON object:
{"actionable": true|false, "verdict": "<one sentence rationale>"}.
"actionable" means the recipient should act on this message right away.`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the message text plus context hints to the LLM and parses
// its JSON verdict. Any transport failure, non-2xx status, or timeout is
// reported as ErrUnavailable.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string, hints []string) (model.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	user := text
	if len(hints) > 0 {
		user = "Notes from prior observations:\n- " + strings.Join(hints, "\n- ") + "\n\nMessage:\n" + text
	}

	body, _ := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return model.Verdict{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(b))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(result.Choices) == 0 {
		return model.Verdict{}, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	return parseVerdict(result.Choices[0].Message.Content)
}

type verdictJSON struct {
	Actionable bool   `json:"actionable"`
	Verdict    string `json:"verdict"`
}

// parseVerdict tolerates verdict JSON wrapped in prose or code fences.
func parseVerdict(content string) (model.Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return model.Verdict{}, fmt.Errorf("%w: no JSON in response %q", ErrUnavailable, content)
	}
	var v verdictJSON
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: parse verdict: %v", ErrUnavailable, err)
	}
	return model.Verdict{Text: v.Verdict, Actionable: v.Actionable}, nil
}
