// Package events subscribes to the server's modification feed so the cache
// tracks writes made by other clients.
//
// The server broadcasts one event per accepted write: the method it applied
// and the URL it applied it to. The listener replays each event through the
// sync engine (a refetch for creates and replaces, a delete-sync for
// deletes), keeping this agent's graph convergent with the server without
// polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
)

// Event is one modification notice from the server.
type Event struct {
	// Method is the write the server applied: PUT, POST or DELETE.
	Method string `json:"method"`

	// URL is the resource the write touched.
	URL string `json:"resource_url"`
}

// Handler replays one modification event onto the local cache.
type Handler interface {
	// HandleEvent is invoked once per received event, in arrival order.
	HandleEvent(ctx context.Context, ev Event) error
}

// Config holds listener configuration.
type Config struct {
	// ReconnectBackoff is the initial delay before redialing a dropped
	// connection; it doubles per attempt up to MaxReconnectBackoff.
	ReconnectBackoff time.Duration

	// MaxReconnectBackoff caps the redial delay.
	MaxReconnectBackoff time.Duration

	// Logger for listener activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReconnectBackoff:    time.Second,
		MaxReconnectBackoff: 30 * time.Second,
		Logger:              log.New(os.Stderr, "[events] ", log.LstdFlags),
	}
}

// Listener maintains the WebSocket subscription to the server's feed.
type Listener struct {
	url     string
	handler Handler
	config  *Config
}

// NewListener creates a listener for the feed at url.
func NewListener(url string, handler Handler, config *Config) (*Listener, error) {
	if url == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Listener{
		url:     url,
		handler: handler,
		config:  config,
	}, nil
}

// Start connects and consumes events until ctx is cancelled. Dropped
// connections are redialed with exponential backoff; the listener only
// returns early on context cancellation.
func (l *Listener) Start(ctx context.Context) error {
	backoff := l.config.ReconnectBackoff

	for {
		err := l.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.config.Logger.Printf("Connection lost: %v (retrying in %v)", err, backoff)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > l.config.MaxReconnectBackoff {
			backoff = l.config.MaxReconnectBackoff
		}
	}
}

// consume dials the feed and processes events until the connection drops.
func (l *Listener) consume(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", l.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	l.config.Logger.Printf("Subscribed to %s", l.url)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			l.config.Logger.Printf("Skipping malformed event: %v", err)
			continue
		}

		if err := l.handler.HandleEvent(ctx, ev); err != nil {
			l.config.Logger.Printf("Error handling %s %s: %v", ev.Method, ev.URL, err)
		}
	}
}

// DecodeEvent parses one feed message. Events without a method or URL are
// rejected.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Method == "" || ev.URL == "" {
		return Event{}, fmt.Errorf("event missing method or resource_url")
	}
	return ev, nil
}
