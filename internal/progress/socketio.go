package progress

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// SocketIOSink streams progress events to a socket.io server, for example
// a dashboard following a long setup or benchmark session.
type SocketIOSink struct {
	event string
	emit  func(event string, payload map[string]any)
	close func()
	counter
}

// DialSocketIO connects to rawURL and returns a sink emitting event on the
// given namespace.
func DialSocketIO(ctx context.Context, rawURL, namespace, event string) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Progress stream connected.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(15 * time.Second):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after 15s waiting for socket.io connection")
	}

	return &SocketIOSink{
		event: event,
		emit: func(event string, payload map[string]any) {
			logger.Debug("Emitting progress.", "event", event, "done", payload["done"])
			io.Emit(event, payload)
		},
		close: func() { io.Disconnect() },
	}, nil
}

func (s *SocketIOSink) Start(desc string, total int) {
	s.start(desc, total)
	s.send("start", desc, 0, total)
}

func (s *SocketIOSink) Advance(n int) {
	desc, done, total := s.advance(n)
	s.send("advance", desc, done, total)
}

// Finish sends the final state and closes the connection.
func (s *SocketIOSink) Finish() {
	desc, done, total := s.advance(0)
	s.send("finish", desc, done, total)
	if s.close != nil {
		s.close()
	}
}

func (s *SocketIOSink) send(phase, desc string, done, total int) {
	s.emit(s.event, map[string]any{"phase": phase, "desc": desc, "done": done, "total": total})
}
