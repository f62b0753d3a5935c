package transport

import (
	"context"
	"fmt"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is a transport-neutral view of an inbound message-creation event.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	// FromSelf is true for messages authored by the bot account itself.
	FromSelf bool
	// QuotedID is the sent-item key of the message this one replies to ("" when not a reply).
	QuotedID string
}

// Ref returns a reference to the message for in-place replies.
func (m *Message) Ref() MessageRef {
	return MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Key is the opaque sent-item identifier used for correlation: "<chat_id>:<message_id>".
func (r MessageRef) Key() string {
	return ItemKey(r.ChatID, r.MessageID)
}

func ItemKey(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
)

// Media is a sendable payload produced by the media resolver.
type Media struct {
	Kind      MediaKind
	MIME      string
	FileName  string
	SourceURL string
	Data      []byte
}

// MediaOptions controls how a media item is delivered.
type MediaOptions struct {
	// SelfExpiring asks the transport to restrict the item to a single covered view.
	SelfExpiring bool
	Caption      string
}

// SendError reports that the transport rejected or failed a send.
type SendError struct {
	Op     string // "media" | "text" | "reply"
	ChatID int64
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %d: %v", e.Op, e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	// Ready is closed once the transport session is usable.
	Ready() <-chan struct{}

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	ReplyText(ctx context.Context, to MessageRef, text string) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, media Media, opt MediaOptions) (MessageRef, error)
}
