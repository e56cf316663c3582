package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nvct-backend/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 512
)

// Connection information
type Connection struct {
	ID       string          `json:"id"`
	Actor    string          `json:"actor"`
	Conn     *websocket.Conn `json:"-"`
	Send     chan []byte     `json:"-"`
	LastPing time.Time       `json:"last_ping"`
}

// PushMessage envelope written to subscribers
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	Data      interface{} `json:"data"`
}

// clientMessage subscribe/unsubscribe request read from a connection
type clientMessage struct {
	Action string `json:"action"` // subscribe | unsubscribe
	SubscriptionFilter
}

// WebSocketPushService fans status events out to subscribed WebSocket clients
type WebSocketPushService struct {
	connections   map[string]*Connection // key: connectionID
	subscriptions *WebSocketSubscriptionManager
	upgrader      websocket.Upgrader
	hub           chan StatusEvent
	register      chan *Connection
	unregister    chan *Connection
	stop          chan struct{}
	stopOnce      sync.Once
	mutex         sync.RWMutex
}

var _ EventPublisher = (*WebSocketPushService)(nil)

// NewWebSocketPushService starts the hub. allowedOrigins empty or containing
// "*" accepts any Origin.
func NewWebSocketPushService(allowedOrigins []string) *WebSocketPushService {
	service := &WebSocketPushService{
		connections:   make(map[string]*Connection),
		subscriptions: NewWebSocketSubscriptionManager(),
		hub:           make(chan StatusEvent, 256),
		register:      make(chan *Connection),
		unregister:    make(chan *Connection),
		stop:          make(chan struct{}),
	}
	service.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}

	go service.run()
	return service
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case event := <-s.hub:
			s.handleBroadcast(event)

		case <-s.stop:
			s.mutex.Lock()
			for _, conn := range s.connections {
				s.closeConnection(conn)
			}
			s.connections = make(map[string]*Connection)
			s.mutex.Unlock()
			return
		}
	}
}

// Publish queues event for delivery. A full hub drops the event instead of
// blocking the workflow that produced it.
func (s *WebSocketPushService) Publish(_ context.Context, event StatusEvent) error {
	select {
	case s.hub <- event:
	default:
		logrus.Warnf("⚠️ [WebSocket] hub full, dropping %s for %s", event.Kind, event.Reference)
	}
	return nil
}

// Close disconnects every client and stops the hub
func (s *WebSocketPushService) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	s.subscriptions.RegisterClient(conn.ID, conn.Actor)
	metrics.WebSocketConnections.Inc()

	logrus.Infof("📱 [WebSocket] connection registered: actor=%s, connID=%s", conn.Actor, conn.ID)

	s.enqueue(conn, PushMessage{
		Type:      "connection_established",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: generateMessageID(),
		Data: map[string]interface{}{
			"connection_id": conn.ID,
			"message":       "Real-time status connection established",
		},
	})
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	delete(s.connections, conn.ID)
	s.closeConnection(conn)

	logrus.Infof("📱 [WebSocket] connection unregistered: actor=%s, connID=%s", conn.Actor, conn.ID)
}

// closeConnection caller holds s.mutex
func (s *WebSocketPushService) closeConnection(conn *Connection) {
	s.subscriptions.UnregisterClient(conn.ID)
	close(conn.Send)
	metrics.WebSocketConnections.Dec()
}

func (s *WebSocketPushService) handleBroadcast(event StatusEvent) {
	clientIDs := s.subscriptions.ClientsFor(event)
	if len(clientIDs) == 0 {
		return
	}

	message := PushMessage{
		Type:      event.Kind,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		MessageID: generateMessageID(),
		Data:      event,
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sent := 0
	for _, id := range clientIDs {
		conn, ok := s.connections[id]
		if !ok {
			continue
		}
		if s.enqueue(conn, message) {
			sent++
		}
	}
	logrus.Debugf("📤 [WebSocket] %s %s delivered to %d/%d subscribers", event.Kind, event.Reference, sent, len(clientIDs))
}

// enqueue caller holds s.mutex, which keeps conn.Send open
func (s *WebSocketPushService) enqueue(conn *Connection, message PushMessage) bool {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("❌ [WebSocket] failed to marshal message")
		return false
	}
	select {
	case conn.Send <- data:
		return true
	default:
		logrus.Warnf("⚠️ [WebSocket] send buffer full for connection %s", conn.ID)
		return false
	}
}

// reply sends a message to one connection if it is still registered
func (s *WebSocketPushService) reply(conn *Connection, msgType string, data interface{}) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	s.enqueue(conn, PushMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: generateMessageID(),
		Data:      data,
	})
}

// HandleWebSocket upgrades the request and serves the connection for actor
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, actor string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("❌ [WebSocket] upgrade failed")
		return
	}

	connection := &Connection{
		ID:       generateConnectionID(),
		Actor:    actor,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		LastPing: time.Now(),
	}

	select {
	case s.register <- connection:
	case <-s.stop:
		conn.Close()
		return
	}

	go s.handleConnectionWrite(connection)
	go s.handleConnectionRead(connection)
}

// ActiveConnections number of registered connections
func (s *WebSocketPushService) ActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithError(err).Debugf("[WebSocket] write failed for %s", conn.ID)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer func() {
		select {
		case s.unregister <- conn:
		case <-s.stop:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(wsReadLimit)
	conn.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Warn("❌ [WebSocket] read error")
			}
			return
		}
		s.handleClientMessage(conn, data)
	}
}

func (s *WebSocketPushService) handleClientMessage(conn *Connection, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.reply(conn, "error", map[string]string{"error": "malformed message"})
		return
	}

	filter := msg.SubscriptionFilter
	switch msg.Action {
	case "subscribe":
		if err := s.subscriptions.Subscribe(conn.ID, &filter); err != nil {
			s.reply(conn, "error", map[string]string{"error": err.Error()})
			return
		}
		s.reply(conn, "subscribed", filter)
	case "unsubscribe":
		if err := s.subscriptions.Unsubscribe(conn.ID, filter.Type); err != nil {
			s.reply(conn, "error", map[string]string{"error": err.Error()})
			return
		}
		s.reply(conn, "unsubscribed", filter)
	default:
		s.reply(conn, "error", map[string]string{"error": "unknown action " + msg.Action})
	}
}

func generateConnectionID() string {
	return "conn_" + uuid.NewString()
}

func generateMessageID() string {
	return "msg_" + uuid.NewString()
}
