package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChatSender delivers a plain-text log line to a chat. The Telegram adapter implements it.
type ChatSender interface {
	SendLog(ctx context.Context, chatID int64, text string) error
}

const chatMessageLimit = 3500

type chatItem struct {
	chatID int64
	msg    string
}

// chatSink is a zerolog LevelWriter that forwards records at or above minLevel to a chat.
// Delivery is asynchronous and lossy: a full queue or an exhausted limiter drops the line.
type chatSink struct {
	sender ChatSender
	queue  chan chatItem

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	chatID   int64
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

func newChatSink(sender ChatSender) *chatSink {
	return &chatSink{
		sender:   sender,
		queue:    make(chan chatItem, 256),
		limiter:  rate.NewLimiter(1, 1),
		minLevel: zerolog.WarnLevel,
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
}

func (c *chatSink) setTarget(chatID int64) {
	c.mu.Lock()
	c.chatID = chatID
	c.mu.Unlock()
}

func (c *chatSink) start() {
	c.once.Do(func() {
		ctx, cancel := background()
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.worker(ctx)
		}()
	})
}

func (c *chatSink) close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			if c.sender == nil {
				continue
			}
			_ = c.sender.SendLog(ctx, it.chatID, it.msg)
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID := c.chatID
	lim := c.limiter
	min := c.minLevel
	c.mu.Unlock()

	if chatID == 0 || c.sender == nil || level < min || !lim.Allow() {
		return len(p), nil
	}
	msg := formatChatLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatItem{chatID: chatID, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatChatLine renders a zerolog JSON line as "[LEVEL] message" plus key=value lines,
// cycle/run/item first and the rest sorted.
func formatChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatMessageLimit)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for _, k := range pinnedKeys {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", KeyCycle, KeyRun, KeyItem:
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	keys = append(keys, rest...)
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), chatMessageLimit)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
