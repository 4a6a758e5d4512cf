// Package realtime streams dashboard events to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/dashboard"
)

// MaxClients caps concurrent websocket connections.
const MaxClients = 1000

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// Subscription narrows the events a client receives. Clients may replace it
// by sending a JSON message; an empty Kinds list means every kind.
type Subscription struct {
	Kinds []dashboard.EventKind `json:"kinds"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	surface dashboard.Kind
	send    chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *client) wants(ev *dashboard.Event) bool {
	if ev.Surface != c.surface {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sub.Kinds) == 0 || slices.Contains(c.sub.Kinds, ev.Kind)
}

// Metrics holds hub gauges and counters. A nil *Metrics records nothing.
type Metrics struct {
	Clients prometheus.Gauge
	Dropped prometheus.Counter
}

// NewMetrics registers and returns realtime metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagedesk_stream_clients",
			Help: "Connected websocket subscribers.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagedesk_stream_dropped_events_total",
			Help: "Events dropped because the hub or a subscriber was behind.",
		}),
	}
	reg.MustRegister(m.Clients, m.Dropped)
	return m
}

func (m *Metrics) clients(n int) {
	if m != nil {
		m.Clients.Set(float64(n))
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

// Hub fans surface events out to connected clients. It implements
// dashboard.Publisher.
type Hub struct {
	logger  log.Logger
	metrics *Metrics

	broadcast  chan *dashboard.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger log.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		logger:     logger,
		metrics:    metrics,
		broadcast:  make(chan *dashboard.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run delivers events until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info(ctx, "realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.metrics.clients(0)
			h.logger.Info(ctx, "realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.clients(n)
			h.logger.Info(ctx, "stream client connected", "surface", string(c.surface), "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.clients(n)

		case ev := <-h.broadcast:
			msg, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error(ctx, err, "failed to encode stream event", "kind", string(ev.Kind))
				continue
			}
			var slow []*client
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						close(c.send)
						delete(h.clients, c)
						h.metrics.dropped()
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.metrics.clients(n)
			}
		}
	}
}

// Publish queues ev for delivery without blocking. Events are dropped when
// the hub is behind.
func (h *Hub) Publish(ev dashboard.Event) {
	select {
	case h.broadcast <- &ev:
	default:
		h.metrics.dropped()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades r and streams events for surface until the peer
// disconnects or the hub stops.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, surface dashboard.Kind) {
	select {
	case <-h.done:
		http.Error(w, `{"error":"server shutting down"}`, http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Clients() >= MaxClients {
		http.Error(w, `{"error":"too many connections"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err.Error())
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		surface: surface,
		send:    make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump applies subscription updates and notices disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn(context.Background(), "websocket read error", "error", err.Error())
			}
			return
		}
		var sub Subscription
		if json.Unmarshal(msg, &sub) == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
