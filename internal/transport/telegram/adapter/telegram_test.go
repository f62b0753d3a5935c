package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestToMessageGroupReply(t *testing.T) {
	m := &tele.Message{
		ID:     77,
		Text:   "send pls",
		Chat:   &tele.Chat{ID: -100123, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 5, Username: "ada"},
		ReplyTo: &tele.Message{
			ID:   41,
			Chat: &tele.Chat{ID: -100123},
		},
	}

	got := toMessage(m, 999)
	assert.Equal(t, int64(-100123), got.ChatID)
	assert.True(t, got.IsGroup)
	assert.False(t, got.FromSelf)
	assert.Equal(t, "-100123:41", got.QuotedID)
	assert.Equal(t, "ada", got.FromUsername)
}

func TestToMessagePrivateFromSelf(t *testing.T) {
	m := &tele.Message{
		ID:     3,
		Text:   "!groupid",
		Chat:   &tele.Chat{ID: 999, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 999},
	}

	got := toMessage(m, 999)
	assert.False(t, got.IsGroup)
	assert.True(t, got.FromSelf)
	assert.Empty(t, got.QuotedID)
}

func TestToMessageReplyWithoutChatUsesParentChat(t *testing.T) {
	m := &tele.Message{
		ID:      10,
		Chat:    &tele.Chat{ID: -5, Type: tele.ChatGroup},
		ReplyTo: &tele.Message{ID: 9},
	}
	assert.Equal(t, "-5:9", toMessage(m, 0).QuotedID)
}
