package reply

import (
	"context"
	"strconv"
	"time"

	"memebot/internal/correlation"
	"memebot/internal/eventbus"
	kit "memebot/internal/transport"
	logx "memebot/pkg/logx"
)

// Resolver turns a stored source ref into sendable media.
type Resolver interface {
	Resolve(ctx context.Context, url string) (kit.Media, error)
}

// Sender is the slice of the transport the handler replies through.
type Sender interface {
	ReplyText(ctx context.Context, to kit.MessageRef, text string) (kit.MessageRef, error)
	SendMedia(ctx context.Context, to kit.ChatTarget, media kit.Media, opt kit.MediaOptions) (kit.MessageRef, error)
}

type Config struct {
	TriggerPhrases []string
	GroupIDToken   string
	Caption        string
	Apology        string

	ResolveTimeout time.Duration
	SendTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.TriggerPhrases) == 0 {
		c.TriggerPhrases = DefaultTriggerPhrases
	}
	if c.GroupIDToken == "" {
		c.GroupIDToken = DefaultGroupIDToken
	}
	if c.Caption == "" {
		c.Caption = DefaultCaption
	}
	if c.Apology == "" {
		c.Apology = DefaultApology
	}
	return c
}

// Outcome describes what Handle did, mostly for tests and audit.
type Outcome struct {
	GroupIDReplied bool
	Decision       Decision
	Fulfilled      bool
	Err            error
}

// FulfillmentEvent is the payload of reply.* bus events.
type FulfillmentEvent struct {
	ChatID     int64  `json:"chat_id"`
	FromID     int64  `json:"from_id"`
	SentItemID string `json:"id"`
	SourceRef  string `json:"ref,omitempty"`
	CycleID    uint64 `json:"cycle,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Handler struct {
	cfg      Config
	store    correlation.Store
	resolver Resolver
	sender   Sender
	log      logx.Logger
	bus      eventbus.Bus
}

func New(cfg Config, store correlation.Store, resolver Resolver, sender Sender, log logx.Logger, bus eventbus.Bus) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Handler{cfg: cfg.withDefaults(), store: store, resolver: resolver, sender: sender, log: log, bus: bus}
}

// EventFromMessage adapts a transport message.
func EventFromMessage(m *kit.Message) Event {
	return Event{
		ChatID:    m.ChatID,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		FromID:    m.FromID,
		FromSelf:  m.FromSelf,
		IsGroup:   m.IsGroup,
		Text:      m.Text,
		QuotedID:  m.QuotedID,
	}
}

// Handle applies the group-id rule and the fulfillment rule independently.
func (h *Handler) Handle(ctx context.Context, ev Event) Outcome {
	var out Outcome
	ref := kit.MessageRef{ChatID: ev.ChatID, ThreadID: ev.ThreadID, MessageID: ev.MessageID}

	if DecideGroupID(ev, h.cfg.GroupIDToken) {
		text := "This group's ID is: " + strconv.FormatInt(ev.ChatID, 10)
		if _, err := h.sender.ReplyText(ctx, ref, text); err != nil {
			h.log.Warn("group id reply failed", logx.Chat(ev.ChatID), logx.Err(err))
		} else {
			out.GroupIDReplied = true
			h.bus.Publish(eventbus.Event{Type: "reply.groupid", Data: FulfillmentEvent{ChatID: ev.ChatID, FromID: ev.FromID}})
		}
	}

	decision, entry := DecideFulfillment(ctx, ev, h.cfg.TriggerPhrases, h.store.Get)
	out.Decision = decision
	switch decision {
	case DecisionIgnore:
		return out
	case DecisionLookupMiss:
		h.log.Debug("fulfillment request for unknown item", logx.Item(ev.QuotedID), logx.Chat(ev.ChatID), logx.String("reason", "not_in_store"))
		h.bus.Publish(eventbus.Event{Type: "reply.miss", Data: FulfillmentEvent{ChatID: ev.ChatID, FromID: ev.FromID, SentItemID: ev.QuotedID}})
		return out
	}

	log := h.log.With(logx.Item(entry.SentItemID), logx.Cycle(entry.CycleID), logx.Chat(ev.ChatID))
	log.Info("fulfillment requested", logx.Int64("from", ev.FromID))
	evData := FulfillmentEvent{ChatID: ev.ChatID, FromID: ev.FromID, SentItemID: entry.SentItemID, SourceRef: entry.SourceRef, CycleID: entry.CycleID}

	if err := h.fulfill(ctx, ev, entry); err != nil {
		out.Err = err
		evData.Error = err.Error()
		log.Warn("fulfillment failed", logx.Ref(entry.SourceRef), logx.Err(err))
		h.bus.Publish(eventbus.Event{Type: "reply.failed", Data: evData})
		if _, rerr := h.sender.ReplyText(ctx, ref, h.cfg.Apology); rerr != nil {
			log.Warn("apology reply failed", logx.Err(rerr))
		}
		return out
	}

	h.store.Delete(ctx, entry.SentItemID)
	out.Fulfilled = true
	log.Info("fulfillment sent")
	h.bus.Publish(eventbus.Event{Type: "reply.fulfilled", Data: evData})
	return out
}

func (h *Handler) fulfill(ctx context.Context, ev Event, entry correlation.Entry) error {
	rctx, cancel := withTimeout(ctx, h.cfg.ResolveTimeout)
	m, err := h.resolver.Resolve(rctx, entry.SourceRef)
	cancel()
	if err != nil {
		return err
	}
	sctx, cancel := withTimeout(ctx, h.cfg.SendTimeout)
	defer cancel()
	_, err = h.sender.SendMedia(sctx, kit.ChatTarget{ChatID: ev.ChatID, ThreadID: ev.ThreadID}, m, kit.MediaOptions{Caption: h.cfg.Caption})
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
