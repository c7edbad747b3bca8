package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/microshell/shell_host/internal/authstate"
	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/logging"
	"github.com/microshell/shell_host/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// wsMessage is the wire envelope for the event stream, both directions.
type wsMessage struct {
	Kind    events.EventType `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

// Hub bridges the in-process event channel to websocket clients.
// Outbound, every published event is fanned out to connected clients.
// Inbound, authentication changes from other shell instances are applied
// to local state without republishing, and cross-module data is placed
// on the channel.
type Hub struct {
	bus      *events.Bus
	auth     *authstate.Synchronizer
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
	unsubs  []func()
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub and subscribes it to every event kind.
func NewHub(bus *events.Bus, auth *authstate.Synchronizer, log *logging.Logger) *Hub {
	h := &Hub{
		bus:  bus,
		auth: auth,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}

	kinds := []events.EventType{
		events.EventModuleLoaded,
		events.EventModuleError,
		events.EventModuleConnected,
		events.EventAuthenticationChanged,
		events.EventCrossModuleData,
	}
	for _, kind := range kinds {
		h.unsubs = append(h.unsubs, bus.Subscribe(kind, h.onEvent))
	}
	return h
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// onEvent fans a published event out to every connected client.
func (h *Hub) onEvent(_ context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(wsMessage{Kind: ev.Kind(), Payload: payload})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			// Slow consumer; drop the connection rather than block dispatch.
			close(client.send)
			delete(h.clients, client)
		}
	}
	return nil
}

// HandleWS upgrades the connection and joins it to the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = true
	h.mu.Unlock()
	metrics.WebSocketClientConnected()

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
	metrics.WebSocketClientDisconnected()
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(client *wsClient) {
	defer h.remove(client)

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleInbound(raw)
	}
}

// handleInbound processes a client frame. Unknown kinds are ignored.
func (h *Hub) handleInbound(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WithError(err).Debug("discarding malformed event frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Kind {
	case events.EventAuthenticationChanged:
		var ev events.AuthenticationChanged
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			h.log.WithError(err).Debug("discarding malformed auth frame")
			return
		}
		// Mirror remote state locally; ApplyRemote never republishes, so
		// state cannot ping-pong between instances.
		h.auth.ApplyRemote(ctx, ev)

	case events.EventCrossModuleData:
		var ev events.CrossModuleData
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			h.log.WithError(err).Debug("discarding malformed data frame")
			return
		}
		if err := h.bus.PublishAsync(ctx, ev); err != nil {
			h.log.WithError(err).Debug("cross-module data dispatch failed")
		}
	}
}

// Close disconnects every client and detaches from the event channel.
func (h *Hub) Close() {
	for _, unsub := range h.unsubs {
		unsub()
	}

	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		close(client.send)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
}
