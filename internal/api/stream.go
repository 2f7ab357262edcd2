package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// stream fans backtest events out to connected WebSocket clients.
//
// A backtest produces events far faster than any live venue, so the
// stream stays deliberately small: no keepalive machinery, no hub
// goroutine. Each client owns a buffered queue drained by one writer
// goroutine; a client that cannot keep up with the event flow is
// detached rather than allowed to stall the run. New clients are primed
// with a snapshot so a dashboard joining mid-run starts from the
// current state instead of an empty screen.
type stream struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn  *websocket.Conn
	queue chan []byte
	once  sync.Once
}

const (
	writeTimeout    = 10 * time.Second
	clientQueueSize = 256
)

func newStream(logger *slog.Logger) *stream {
	return &stream{
		logger:  logger.With("component", "ws-stream"),
		clients: make(map[*client]struct{}),
	}
}

// attach registers a connection, queues the priming snapshot, and
// starts the client's writer.
func (s *stream) attach(conn *websocket.Conn, snapshot Snapshot) {
	c := &client{conn: conn, queue: make(chan []byte, clientQueueSize)}
	if data, err := json.Marshal(Event{Type: "snapshot", Timestamp: snapshot.GeneratedAt, Data: snapshot}); err == nil {
		c.queue <- data
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("client connected", "count", count)

	go s.writeLoop(c)
	go s.discardReads(c)
}

// broadcast marshals the event once and enqueues it for every client.
// Clients with a full queue are collected under the lock and detached
// after it is released.
func (s *stream) broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal event", "error", err)
		return
	}

	var stalled []*client
	s.mu.Lock()
	for c := range s.clients {
		select {
		case c.queue <- data:
		default:
			stalled = append(stalled, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stalled {
		s.logger.Warn("dropping stalled client")
		s.detach(c)
	}
}

// detach removes a client and closes its connection. Queue sends happen
// only under the lock while the client is still in the set, so closing
// the queue after removal cannot race a broadcast.
func (s *stream) detach(c *client) {
	s.mu.Lock()
	_, known := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()

	c.once.Do(func() { close(c.queue) })
	c.conn.Close()
	if known {
		s.logger.Info("client disconnected", "count", count)
	}
}

// closeAll detaches every client; Server.Stop calls it because a
// graceful HTTP shutdown does not touch hijacked WebSocket connections.
func (s *stream) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.detach(c)
	}
}

// writeLoop drains the client's queue onto the wire. detach closes the
// connection right after closing the queue, so messages still queued may
// be dropped and the close frame is only sent if the writer gets there
// first.
func (s *stream) writeLoop(c *client) {
	defer s.detach(c)
	for data := range c.queue {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// discardReads consumes client frames so connection closes are noticed;
// the dashboard stream is one-way.
func (s *stream) discardReads(c *client) {
	defer s.detach(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
