package progress

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/ctxlog"
)

func TestBarSink(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBarSink(&buf, 10)

	bar.Start("Installing dependencies", 4)
	bar.Advance(1)
	bar.Advance(1)
	bar.Advance(5)
	bar.Finish()

	out := buf.String()
	assert.Contains(t, out, "Installing dependencies [          ] 0/4")
	assert.Contains(t, out, "[#####     ] 2/4")
	assert.Contains(t, out, "[##########] 4/4", "done is clamped to total")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestBarSink_ConcurrentAdvance(t *testing.T) {
	var out bytes.Buffer
	bar := NewBarSink(&out, 10)
	bar.Start("runs", 100)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bar.Advance(1)
		}()
	}
	wg.Wait()

	_, done, _ := bar.advance(0)
	assert.Equal(t, 100, done)
	assert.True(t, strings.HasSuffix(out.String(), "[##########] 100/100"), "last redraw shows the final count")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	s := NewLogSink(ctx)
	s.Start("Processing runs", 2)
	s.Advance(1)
	s.Finish()

	assert.Contains(t, buf.String(), "Processing runs")
	assert.Contains(t, buf.String(), "done=1")
}

func TestSocketIOSink_Payloads(t *testing.T) {
	var events []map[string]any
	closed := false
	s := &SocketIOSink{
		event: "progress",
		emit: func(event string, payload map[string]any) {
			require.Equal(t, "progress", event)
			events = append(events, payload)
		},
		close: func() { closed = true },
	}

	Multi{s, Nop{}}.Start("setup", 3)
	s.Advance(2)
	s.Finish()

	require.Len(t, events, 3)
	assert.Equal(t, map[string]any{"phase": "start", "desc": "setup", "done": 0, "total": 3}, events[0])
	assert.Equal(t, 2, events[1]["done"])
	assert.Equal(t, "finish", events[2]["phase"])
	assert.True(t, closed)
}
