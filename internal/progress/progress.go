// Package progress defines the narrow interface the setup runner and the
// session scheduler report progress through, plus a few displays for it.
// Scheduling code never knows which display is attached.
package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vk/mcubench/internal/ctxlog"
)

// Sink receives progress updates. Implementations must be safe for
// concurrent Advance calls.
type Sink interface {
	Start(desc string, total int)
	Advance(n int)
	Finish()
}

// Nop discards all updates.
type Nop struct{}

func (Nop) Start(string, int) {}
func (Nop) Advance(int)       {}
func (Nop) Finish()           {}

// counter is the shared bookkeeping of the concrete sinks.
type counter struct {
	mu    sync.Mutex
	desc  string
	done  int
	total int
}

func (c *counter) start(desc string, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desc, c.total, c.done = desc, total, 0
}

func (c *counter) advance(n int) (desc string, done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done += n
	if c.total > 0 && c.done > c.total {
		c.done = c.total
	}
	return c.desc, c.done, c.total
}

// LogSink reports progress as structured log lines.
type LogSink struct {
	ctx context.Context
	counter
}

// NewLogSink logs through the logger carried by ctx.
func NewLogSink(ctx context.Context) *LogSink { return &LogSink{ctx: ctx} }

func (s *LogSink) Start(desc string, total int) {
	s.start(desc, total)
	ctxlog.FromContext(s.ctx).Info("⏳ "+desc, "total", total)
}

func (s *LogSink) Advance(n int) {
	desc, done, total := s.advance(n)
	ctxlog.FromContext(s.ctx).Debug("Progress.", "desc", desc, "done", done, "total", total)
}

func (s *LogSink) Finish() {
	desc, done, total := s.advance(0)
	ctxlog.FromContext(s.ctx).Info("✅ "+desc+" finished.", "done", done, "total", total)
}

// BarSink draws a text progress bar on a writer, typically stderr.
type BarSink struct {
	// mu orders redraws with their counter updates.
	mu    sync.Mutex
	w     io.Writer
	width int
	counter
}

// NewBarSink returns a bar of the given width in characters.
func NewBarSink(w io.Writer, width int) *BarSink {
	if width <= 0 {
		width = 30
	}
	return &BarSink{w: w, width: width}
}

func (s *BarSink) Start(desc string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start(desc, total)
	s.draw(desc, 0, total)
}

func (s *BarSink) Advance(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, done, total := s.advance(n)
	s.draw(desc, done, total)
}

func (s *BarSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w)
}

func (s *BarSink) draw(desc string, done, total int) {
	filled := 0
	if total > 0 {
		filled = done * s.width / total
	}
	fmt.Fprintf(s.w, "\r%s [%s%s] %d/%d", desc, strings.Repeat("#", filled), strings.Repeat(" ", s.width-filled), done, total)
}

// Multi fans updates out to several sinks.
type Multi []Sink

func (m Multi) Start(desc string, total int) {
	for _, s := range m {
		s.Start(desc, total)
	}
}

func (m Multi) Advance(n int) {
	for _, s := range m {
		s.Advance(n)
	}
}

func (m Multi) Finish() {
	for _, s := range m {
		s.Finish()
	}
}
