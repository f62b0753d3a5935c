package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWithFieldsAreApplied(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "broadcast"))

	log.Info("cycle finished", Int("sent", 8), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "broadcast", rec["comp"])
	assert.Equal(t, float64(8), rec["sent"])
	assert.Equal(t, "boom", rec["err"])
	assert.Equal(t, "cycle finished", rec["message"])
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Info("ignored")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nope", zerolog.InfoLevel))
}

func TestFormatChatLineSortsKeys(t *testing.T) {
	line := `{"level":"warn","time":"x","message":"send failed","zeta":1,"alpha":"a"}`
	got := formatChatLine([]byte(line))
	assert.Equal(t, "[WARN] send failed\n- alpha=a\n- zeta=1", got)
}

func TestFormatChatLinePinsCycleFields(t *testing.T) {
	line := `{"level":"error","message":"broadcast item failed","chat_id":-100,"id":"-100:7","cycle":3,"run":"r1","attempt":2}`
	got := formatChatLine([]byte(line))
	assert.Equal(t, "[ERROR] broadcast item failed\n- cycle=3\n- run=r1\n- id=-100:7\n- attempt=2\n- chat_id=-100", got)
}

type recordingSender struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSender) SendLog(_ context.Context, _ int64, text string) error {
	r.mu.Lock()
	r.lines = append(r.lines, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func TestChatSinkRespectsMinLevelAndTarget(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Warn("dropped: no target yet")
	svc.SetChatTarget(42)
	log.Info("below min level")
	log.Warn("delivered")

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Contains(t, sender.lines[0], "delivered")
}
