// Package reply reacts to inbound messages: the group-id diagnostic and single-use fulfillment of
// broadcast items that a participant asked for by replying with a trigger phrase.
package reply

import (
	"context"
	"strings"

	"memebot/internal/correlation"
)

// Event is the subset of an inbound message the rules look at.
type Event struct {
	ChatID    int64
	ThreadID  int
	MessageID int
	FromID    int64
	FromSelf  bool
	IsGroup   bool
	Text      string
	// QuotedID is the sent-item id of the replied-to message, "" when not a reply.
	QuotedID string
}

var (
	DefaultTriggerPhrases = []string{"send pls", "send please"}
	DefaultGroupIDToken   = "!groupid"
)

const (
	DefaultCaption = "Here you go! 😉"
	DefaultApology = "Ah, sorry. I couldn't seem to find that one. Try again."
)

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// DecideGroupID reports whether ev asks for the conversation id (case-insensitive exact token, group only).
// A "!word" token is also matched in command form ("/word" or "/word@bot"), which Telegram delivers
// to bots in groups even with privacy mode on.
func DecideGroupID(ev Event, token string) bool {
	if !ev.IsGroup || token == "" {
		return false
	}
	text, tok := normalize(ev.Text), normalize(token)
	if text == tok {
		return true
	}
	word, ok := strings.CutPrefix(tok, "!")
	if !ok || word == "" {
		return false
	}
	cmd, ok := strings.CutPrefix(text, "/")
	if !ok {
		return false
	}
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd == word
}

// MatchTrigger reports whether text equals one of phrases, ignoring case and surrounding space.
func MatchTrigger(text string, phrases []string) bool {
	t := normalize(text)
	if t == "" {
		return false
	}
	for _, p := range phrases {
		if t == normalize(p) {
			return true
		}
	}
	return false
}

type Decision int

const (
	// DecisionIgnore: not a fulfillment request (own message, not a reply, or no trigger phrase).
	DecisionIgnore Decision = iota
	// DecisionLookupMiss: a valid request for an item the store does not know (expired, fulfilled, or never ours).
	DecisionLookupMiss
	DecisionFulfill
)

func (d Decision) String() string {
	switch d {
	case DecisionLookupMiss:
		return "lookup_miss"
	case DecisionFulfill:
		return "fulfill"
	default:
		return "ignore"
	}
}

// Lookup resolves a sent-item id to its correlation entry.
type Lookup func(ctx context.Context, sentItemID string) (correlation.Entry, bool)

// DecideFulfillment evaluates the fulfillment rule. The returned entry is set only for DecisionFulfill.
func DecideFulfillment(ctx context.Context, ev Event, phrases []string, lookup Lookup) (Decision, correlation.Entry) {
	if ev.FromSelf || ev.QuotedID == "" || !MatchTrigger(ev.Text, phrases) {
		return DecisionIgnore, correlation.Entry{}
	}
	e, ok := lookup(ctx, ev.QuotedID)
	if !ok {
		return DecisionLookupMiss, correlation.Entry{}
	}
	return DecisionFulfill, e
}
