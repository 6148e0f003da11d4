package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"jkbox/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256

	// Inbound flood control per connection.
	messageRate  = 20
	messageBurst = 40
)

// MessageHandler receives everything a connection says. The session
// orchestrator is the only production implementation.
type MessageHandler interface {
	HandleConnect(connID, deviceHint string)
	HandleMessage(ctx context.Context, connID string, raw []byte)
	HandleDisconnect(connID string)
	Reconnect(connID string) bool
}

// Client is one websocket connection.
type Client struct {
	ID       string
	Conn     *websocket.Conn
	RoomID   string
	SendChan chan models.OutboundMessage

	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// WebSocketManager owns every live connection and the room each one is
// subscribed to.
type WebSocketManager struct {
	clients    map[string]*Client
	rooms      map[string]map[*Client]bool
	clientsMux sync.RWMutex
	handler    MessageHandler
}

// NewWebSocketManager returns a hub with no connections. SetHandler must be
// called before it serves any.
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]bool),
	}
}

// SetHandler wires the orchestrator in; it is set once at startup.
func (m *WebSocketManager) SetHandler(h MessageHandler) {
	m.handler = h
}

// HandleConnection serves one connection until it closes. When resume is
// set the connection takes over clientID's previous session.
func (m *WebSocketManager) HandleConnection(ctx context.Context, conn *websocket.Conn, clientID, deviceHint string, resume bool) {
	client := &Client{
		ID:       clientID,
		Conn:     conn,
		SendChan: make(chan models.OutboundMessage, sendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(messageRate), messageBurst),
		done:     make(chan struct{}),
	}

	m.addClient(client)
	defer func() {
		if m.removeClient(client) {
			m.handler.HandleDisconnect(client.ID)
		}
		client.close()
	}()

	m.SendTo(client.ID, models.OutboundMessage{
		Type:    models.MsgConnectionAck,
		Payload: models.ConnectionAckPayload{ConnectionID: client.ID, Resumed: resume},
	})
	m.handler.HandleConnect(client.ID, deviceHint)
	if resume && !m.handler.Reconnect(client.ID) {
		log.Debug().Str("conn", client.ID).Msg("nothing to resume")
	}

	go m.writePump(client)
	m.readPump(ctx, client)
}

func (m *WebSocketManager) readPump(ctx context.Context, client *Client) {
	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn", client.ID).Msg("websocket closed unexpectedly")
			}
			return
		}

		if !client.limiter.Allow() {
			m.SendTo(client.ID, models.OutboundMessage{
				Type:    models.MsgError,
				Payload: models.NewProtocolError(models.CodeRateLimited, "slow down"),
			})
			continue
		}
		m.handler.HandleMessage(ctx, client.ID, message)
	}
}

func (m *WebSocketManager) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.close()
	}()

	for {
		select {
		case <-client.done:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.SendChan:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := client.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			data, err := json.Marshal(message)
			if err != nil {
				log.Error().Err(err).Str("type", message.Type).Msg("encode outbound message")
				w.Close()
				continue
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues msg without blocking. A client that cannot keep up is
// disconnected.
func (m *WebSocketManager) deliver(client *Client, msg models.OutboundMessage) {
	select {
	case <-client.done:
	case client.SendChan <- msg:
	default:
		log.Warn().Str("conn", client.ID).Msg("send buffer full, dropping connection")
		client.close()
	}
}

// SendTo queues msg for one connection. Unknown ids are ignored.
func (m *WebSocketManager) SendTo(connID string, msg models.OutboundMessage) {
	m.clientsMux.RLock()
	client := m.clients[connID]
	m.clientsMux.RUnlock()
	if client != nil {
		m.deliver(client, msg)
	}
}

// BroadcastToRoom queues msg for every connection subscribed to roomID.
func (m *WebSocketManager) BroadcastToRoom(roomID string, msg models.OutboundMessage) {
	m.clientsMux.RLock()
	clients := make([]*Client, 0, len(m.rooms[roomID]))
	for client := range m.rooms[roomID] {
		clients = append(clients, client)
	}
	m.clientsMux.RUnlock()

	for _, client := range clients {
		m.deliver(client, msg)
	}
}

// Subscribe moves the connection into roomID's broadcast set.
func (m *WebSocketManager) Subscribe(connID, roomID string) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	client, ok := m.clients[connID]
	if !ok {
		return
	}
	m.leaveRoomLocked(client)
	if m.rooms[roomID] == nil {
		m.rooms[roomID] = make(map[*Client]bool)
	}
	m.rooms[roomID][client] = true
	client.RoomID = roomID
}

func (m *WebSocketManager) Unsubscribe(connID string) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	if client, ok := m.clients[connID]; ok {
		m.leaveRoomLocked(client)
	}
}

func (m *WebSocketManager) leaveRoomLocked(client *Client) {
	if client.RoomID == "" {
		return
	}
	if clients, ok := m.rooms[client.RoomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(m.rooms, client.RoomID)
		}
	}
	client.RoomID = ""
}

// addClient registers the client, closing any older connection that used
// the same id.
func (m *WebSocketManager) addClient(client *Client) {
	m.clientsMux.Lock()
	old := m.clients[client.ID]
	if old != nil {
		m.leaveRoomLocked(old)
	}
	m.clients[client.ID] = client
	m.clientsMux.Unlock()

	if old != nil {
		log.Debug().Str("conn", client.ID).Msg("connection replaced")
		old.close()
	}
}

// removeClient reports whether client was still the registered connection
// for its id.
func (m *WebSocketManager) removeClient(client *Client) bool {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	m.leaveRoomLocked(client)
	if m.clients[client.ID] != client {
		return false
	}
	delete(m.clients, client.ID)
	return true
}
