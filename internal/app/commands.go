package app

import (
	"context"
	"errors"
	"strings"

	"memebot/internal/scheduler"
	kit "memebot/internal/transport"
	logx "memebot/pkg/logx"
)

// commandWord extracts the lowercased command name from "/name@bot args".
func commandWord(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text)
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", false
	}
	return strings.ToLower(word), true
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

// handleCommand runs owner commands. It reports whether msg was consumed; anything that is not
// a known command falls through to the reply rules.
func (a *App) handleCommand(ctx context.Context, msg *kit.Message) bool {
	if msg.FromSelf {
		return false
	}
	word, ok := commandWord(msg.Text)
	if !ok {
		return false
	}
	var run func(context.Context) string
	switch word {
	case "blast":
		run = a.cmdBlast
	case "status":
		run = a.cmdStatus
	default:
		return false
	}

	text := "unauthorized"
	if isOwner(msg.FromID, a.owners) {
		a.log.Info("owner command", logx.String("cmd", word), logx.Int64("from", msg.FromID), logx.Chat(msg.ChatID))
		text = run(ctx)
	} else {
		a.log.Debug("command rejected", logx.String("cmd", word), logx.Int64("from", msg.FromID))
	}
	if _, err := a.adapter.ReplyText(ctx, msg.Ref(), text); err != nil {
		a.log.Warn("command reply failed", logx.String("cmd", word), logx.Err(err))
	}
	return true
}

func (a *App) cmdBlast(context.Context) string {
	err := a.sched.RunNow(broadcastJob)
	switch {
	case err == nil:
		return "Broadcast cycle started."
	case errors.Is(err, scheduler.ErrOverlapSkip):
		return "A broadcast cycle is already running."
	case errors.Is(err, scheduler.ErrNotFound), errors.Is(err, scheduler.ErrNotRunning):
		return "The broadcast schedule is not armed yet."
	default:
		return "Could not start a cycle: " + err.Error()
	}
}

func (a *App) cmdStatus(ctx context.Context) string {
	return formatStatus(a.Status(ctx))
}
