package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

func init() {
	Register("twilio", func(cfg Config, _ *slog.Logger) (Channel, error) {
		if cfg.User == "" || cfg.Token == "" || cfg.From == "" || cfg.To == "" {
			return nil, fmt.Errorf("twilio channel %q: user (account SID), token, from and to are required", cfg.Name)
		}
		target := cfg.Target
		if target == "" {
			target = fmt.Sprintf("%s/Accounts/%s/Messages.json", twilioBaseURL, cfg.User)
		}
		return &TwilioChannel{
			name:   cfg.Name,
			target: target,
			sid:    cfg.User,
			token:  cfg.Token,
			from:   cfg.From,
			to:     cfg.To,
		}, nil
	})
}

// TwilioChannel sends an SMS through the Twilio REST API.
type TwilioChannel struct {
	name   string
	target string
	sid    string
	token  string
	from   string
	to     string
}

func (c *TwilioChannel) Name() string { return c.name }

// Send delivers title and body as one SMS. SMS has no subject line, so the
// title becomes the first line.
func (c *TwilioChannel) Send(ctx context.Context, title, body string) error {
	return postForm(ctx, c.target, url.Values{
		"Body": {title + "\n" + body},
		"From": {c.from},
		"To":   {c.to},
	}, c.sid, c.token)
}
