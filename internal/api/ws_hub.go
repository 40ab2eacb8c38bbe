package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/metrics"
	"github.com/atmx/fixedrate-engine/internal/model"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type  string       `json:"type"`
	Event *model.Event `json:"event"`
}

// subscription limits a client to one exchange; the zero hash means all.
type subscription struct {
	exchangeID common.Hash
}

func (s subscription) wants(ev *model.Event) bool {
	return s.exchangeID == (common.Hash{}) || s.exchangeID == ev.ExchangeID
}

type outbound struct {
	event *model.Event
	data  []byte
}

// WSHub manages WebSocket connections and streams committed engine events
// to the connected clients.
type WSHub struct {
	clients    map[*websocket.Conn]subscription
	broadcast  chan outbound
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

type registration struct {
	conn *websocket.Conn
	sub  subscription
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]subscription),
		broadcast:  make(chan outbound, 256),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
// It returns after Stop.
func (h *WSHub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.conn] = reg.sub
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, sub := range h.clients {
				if !sub.wants(msg.event) {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return
		}
	}
}

// Stop closes every client connection and ends Run.
func (h *WSHub) Stop() {
	close(h.done)
}

// Broadcast queues an event for every interested client.
func (h *WSHub) Broadcast(ev *model.Event) {
	data, err := json.Marshal(WSMessage{Type: string(ev.Type), Event: ev})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- outbound{event: ev, data: data}:
	default:
		// Drop if buffer full.
		slog.Warn("ws broadcast dropped", "event", ev.ID)
	}
}

// Listener returns a chain listener that forwards committed engine events.
func (h *WSHub) Listener() chain.Listener {
	return func(logs []chain.Log) {
		for _, l := range logs {
			if ev, ok := l.Data.(*model.Event); ok {
				h.Broadcast(ev)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. An
// optional ?exchange_id= restricts the stream to one exchange.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var sub subscription
	if v := r.URL.Query().Get("exchange_id"); v != "" {
		id, err := parseHash(v)
		if err != nil {
			writeError(w, err)
			return
		}
		sub.exchangeID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- registration{conn: conn, sub: sub}:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()
}
