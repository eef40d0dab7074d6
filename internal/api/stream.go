// Package api exposes the analyzer over HTTP: frame ingest, health,
// statistics, configuration, Prometheus metrics and a live WebSocket
// feed of violation events.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storewatch/backend/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// wsClient is one live feed connection. All writes go through the send
// channel into writePump; readPump owns all reads.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string // empty means all sessions
	done      chan struct{}
	once      sync.Once
	stream    *Stream
}

// Stream fans violation events out to WebSocket subscribers.
type Stream struct {
	mu      sync.Mutex
	clients map[*wsClient]bool

	cancel func()
	done   chan struct{}
}

// NewStream subscribes to the bus and starts the broadcast loop.
func NewStream(bus events.Bus) *Stream {
	ch, cancel := bus.Subscribe(events.TopicViolationDetected)
	s := &Stream{
		clients: make(map[*wsClient]bool),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.broadcast(ch)
	return s
}

func (s *Stream) broadcast(ch <-chan events.Event) {
	defer close(s.done)
	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}

		// Minimal decode for the per-session filter.
		var meta struct {
			SessionID string `json:"session_id"`
		}
		_ = json.Unmarshal(event.Data, &meta)

		s.mu.Lock()
		for c := range s.clients {
			if c.sessionID != "" && c.sessionID != meta.SessionID {
				continue
			}
			select {
			case c.send <- payload:
			default:
				slog.Warn("[Stream] Dropping event for slow client", "event_id", event.ID)
			}
		}
		s.mu.Unlock()
	}
}

// ServeHTTP upgrades the connection and registers the client. An
// optional session_id query parameter narrows the feed to one session.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Stream] WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: r.URL.Query().Get("session_id"),
		done:      make(chan struct{}),
		stream:    s,
	}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	slog.Info("[Stream] Client connected", "session_filter", c.sessionID)

	go c.writePump()
	go c.readPump()
}

// Close drops the subscription and disconnects every client.
func (s *Stream) Close() {
	s.cancel()
	<-s.done

	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.stream.mu.Lock()
		delete(c.stream.clients, c)
		c.stream.mu.Unlock()
		c.conn.Close()
		slog.Info("[Stream] Client disconnected")
	})
}

// writePump owns all writes to the connection, including pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump owns all reads; it only consumes control frames and detects
// disconnects.
func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
