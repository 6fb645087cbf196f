package monitor

import (
	"strings"

	"github.com/rcliao/mail-sentinel/internal/mail"
)

// FilterRule is the deterministic keep/drop predicate applied to fetched
// messages: the sender domain must be on the allow-list AND the text must
// contain a primary keyword. Secondary keywords do not affect keep/drop;
// they raise the urgency tier when combined with a classifier signal.
type FilterRule struct {
	Domains   []string
	Primary   []string
	Secondary []string
}

// MatchResult reports which parts of the rule a message satisfied.
type MatchResult struct {
	Keep          bool
	PrimaryHits   []string
	SecondaryHits []string
}

// Match evaluates the rule. Same input always yields the same decision.
func (r FilterRule) Match(m mail.Message) MatchResult {
	if !r.domainAllowed(m.Sender) {
		return MatchResult{}
	}

	text := strings.ToLower(m.Subject + " " + m.Body)

	var res MatchResult
	for _, kw := range r.Primary {
		if strings.Contains(text, strings.ToLower(kw)) {
			res.PrimaryHits = append(res.PrimaryHits, kw)
		}
	}
	if len(res.PrimaryHits) == 0 {
		return MatchResult{}
	}
	for _, kw := range r.Secondary {
		if strings.Contains(text, strings.ToLower(kw)) {
			res.SecondaryHits = append(res.SecondaryHits, kw)
		}
	}
	res.Keep = true
	return res
}

// domainAllowed matches the sender's address domain against the allow-list.
// Subdomains of an allowed domain are allowed.
func (r FilterRule) domainAllowed(sender string) bool {
	domain := senderDomain(sender)
	if domain == "" {
		return false
	}
	for _, allowed := range r.Domains {
		allowed = strings.ToLower(allowed)
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// senderDomain extracts the domain from a From header value like
// "Nintendo <news@nintendo.com>" or a bare address.
func senderDomain(sender string) string {
	addr := sender
	if start := strings.LastIndex(sender, "<"); start >= 0 {
		if end := strings.Index(sender[start:], ">"); end > 0 {
			addr = sender[start+1 : start+end]
		}
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
