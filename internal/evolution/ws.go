package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventHandler receives every messages.upsert event. It runs on the
// listener's read goroutine and must not block; hand work off and return.
type EventHandler func(Event)

// Listener maintains the websocket connection to the Evolution API and
// invokes the handler for incoming message events. Reconnects with
// exponential backoff on any read or dial failure.
type Listener struct {
	url     string
	apiKey  string
	handler EventHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a websocket listener for an Evolution API instance.
func NewListener(apiURL, apiKey, instance string, handler EventHandler) *Listener {
	wsURL := strings.TrimRight(apiURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	return &Listener{
		url:     wsURL + "/" + instance,
		apiKey:  apiKey,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start connects and begins reading events.
func (l *Listener) Start(ctx context.Context) error {
	slog.Info("starting evolution websocket listener", "url", l.url)

	l.ctx, l.cancel = context.WithCancel(ctx)

	if err := l.connect(); err != nil {
		// Don't fail hard — the listen loop keeps retrying.
		slog.Warn("initial evolution websocket connection failed, will retry", "error", err)
	}

	go l.listenLoop()
	return nil
}

// Stop closes the connection and halts the listen loop.
func (l *Listener) Stop() {
	slog.Info("stopping evolution websocket listener")

	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.connected = false
	l.mu.Unlock()

	<-l.done
}

// Connected reports whether the websocket is currently up.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Listener) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{"apikey": []string{l.apiKey}}

	conn, _, err := dialer.DialContext(l.ctx, l.url, header)
	if err != nil {
		return fmt.Errorf("dial evolution websocket %s: %w", l.url, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.connected = true
	l.mu.Unlock()

	slog.Info("evolution websocket connected", "url", l.url)
	return nil
}

func (l *Listener) listenLoop() {
	defer close(l.done)

	backoff := time.Second

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()

		if conn == nil {
			slog.Info("attempting evolution websocket reconnect", "backoff", backoff)

			select {
			case <-l.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := l.connect(); err != nil {
				slog.Warn("evolution websocket reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second // reset on success
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
			}
			slog.Warn("evolution websocket read error, will reconnect", "error", err)

			l.mu.Lock()
			if l.conn != nil {
				_ = l.conn.Close()
				l.conn = nil
			}
			l.connected = false
			l.mu.Unlock()
			continue
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			slog.Warn("invalid evolution event JSON", "error", err)
			continue
		}

		if event.Event != EventMessagesUpsert {
			continue
		}

		l.handler(event)
	}
}
