package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/sui-oracle/pkg/feeder/publisher"
	"github.com/StrathCole/sui-oracle/pkg/feeder/reconciler"
	"github.com/StrathCole/sui-oracle/pkg/logging"
)

// StreamHub pushes per-pair reconcile results to WebSocket clients after every cycle.
type StreamHub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*streamClient]bool

	updates chan publisher.CycleReport

	ctx    context.Context
	cancel context.CancelFunc
}

type streamClient struct {
	conn            *websocket.Conn
	send            chan []byte
	hub             *StreamHub
	subscribedAll   bool
	subscribedPairs map[string]bool
	mu              sync.RWMutex
}

// StreamRequest is a client message.
type StreamRequest struct {
	Type  string   `json:"type"`  // "subscribe", "unsubscribe", "ping"
	Pairs []string `json:"pairs"` // empty or ["*"] means all pairs
}

// CycleMessage is sent to clients once per cycle.
type CycleMessage struct {
	Type      string              `json:"type"` // "cycle"
	CycleID   string              `json:"cycle_id"`
	Timestamp string              `json:"timestamp"`
	Results   []reconciler.Result `json:"results"`
}

// NewStreamHub creates a hub. Call Run to start broadcasting.
func NewStreamHub(logger *logging.Logger) *StreamHub {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*streamClient]bool),
		updates: make(chan publisher.CycleReport, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run broadcasts published reports until Stop is called.
func (h *StreamHub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case report := <-h.updates:
			h.broadcast(report)
		}
	}
}

// Stop disconnects all clients and ends Run.
func (h *StreamHub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish queues a cycle report for broadcast. Matches publisher.Config.OnCycle.
func (h *StreamHub) Publish(report publisher.CycleReport) {
	select {
	case h.updates <- report:
	case <-time.After(100 * time.Millisecond):
		h.logger.Warn("Update channel full, dropping cycle report", "cycle_id", report.ID)
	}
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and registers the client.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &streamClient{
		conn:            conn,
		send:            make(chan []byte, 64),
		hub:             h,
		subscribedAll:   true,
		subscribedPairs: make(map[string]bool),
	}

	if !h.register(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	h.logger.Info("New stream client connected", "remote", conn.RemoteAddr().String())
}

func (h *StreamHub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.clients[c] = true
	return true
}

func (h *StreamHub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast sends each client the results for the pairs it follows.
func (h *StreamHub) broadcast(report publisher.CycleReport) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		results := c.filter(report.Results)
		if len(results) == 0 {
			continue
		}
		data, err := json.Marshal(CycleMessage{
			Type:      "cycle",
			CycleID:   report.ID,
			Timestamp: report.Started.UTC().Format(time.RFC3339),
			Results:   results,
		})
		if err != nil {
			h.logger.Error("Failed to marshal cycle message", "error", err)
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Client send buffer full, skipping update")
		}
	}
}

// writePump sends messages to the WebSocket connection.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages until the connection fails.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket error", "error", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *streamClient) handleMessage(data []byte) {
	var msg StreamRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Pairs)
	case "unsubscribe":
		c.unsubscribe(msg.Pairs)
	case "ping":
		c.sendPong()
	default:
		c.hub.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

func (c *streamClient) subscribe(pairs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(pairs) == 0 || (len(pairs) == 1 && pairs[0] == "*") {
		c.subscribedAll = true
		c.subscribedPairs = make(map[string]bool)
		return
	}
	c.subscribedAll = false
	for _, p := range pairs {
		c.subscribedPairs[p] = true
	}
}

func (c *streamClient) unsubscribe(pairs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(pairs) == 0 || (len(pairs) == 1 && pairs[0] == "*") {
		c.subscribedAll = false
		c.subscribedPairs = make(map[string]bool)
		return
	}
	for _, p := range pairs {
		delete(c.subscribedPairs, p)
	}
}

func (c *streamClient) filter(results []reconciler.Result) []reconciler.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subscribedAll {
		return results
	}
	out := make([]reconciler.Result, 0, len(results))
	for _, r := range results {
		if c.subscribedPairs[r.Pair] {
			out = append(out, r)
		}
	}
	return out
}

func (c *streamClient) sendPong() {
	data, _ := json.Marshal(map[string]string{"type": "pong"})

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
