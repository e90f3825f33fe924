package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/internal/middleware"
	"github.com/churchapp/notifications/pkg/response"
)

const (
	sendBufferSize = 16
	writeWait      = 10 * time.Second
)

type Client struct {
	ID     uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	UserID int64
}

// WSEvent is the frame pushed to connected apps
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NotificationHub pushes newly created notifications to connected apps so the
// in-app list and badge refresh without polling.
type NotificationHub struct {
	upgrader   websocket.Upgrader
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	// userID to the set of that user's connections (multi-device)
	userClients map[int64]map[*Client]bool
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewNotificationHub(allowedOrigins []string, logger *zap.Logger) *NotificationHub {
	return &NotificationHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		userClients: make(map[int64]map[*Client]bool),
		logger:      logger.With(zap.String("component", "live_feed")),
	}
}

// Run owns client registration until ctx is done
func (m *NotificationHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			if _, ok := m.userClients[client.UserID]; !ok {
				m.userClients[client.UserID] = make(map[*Client]bool)
			}
			m.userClients[client.UserID][client] = true
			m.mu.Unlock()
			m.logger.Debug("Client registered", zap.Int64("user_id", client.UserID), zap.String("client_id", client.ID.String()))

		case client := <-m.unregister:
			m.mu.Lock()
			if userMap, ok := m.userClients[client.UserID]; ok && userMap[client] {
				delete(userMap, client)
				if len(userMap) == 0 {
					delete(m.userClients, client.UserID)
				}
				close(client.Send)
				m.logger.Debug("Client unregistered", zap.Int64("user_id", client.UserID), zap.String("client_id", client.ID.String()))
			}
			m.mu.Unlock()

		case <-ctx.Done():
			close(m.done)
			m.mu.Lock()
			for _, userMap := range m.userClients {
				for client := range userMap {
					close(client.Send)
				}
			}
			m.userClients = make(map[int64]map[*Client]bool)
			m.mu.Unlock()
			return
		}
	}
}

// Publish delivers a notification to its target user's connections, or to
// every connection for a broadcast. Slow clients miss the frame.
func (m *NotificationHub) Publish(n *domain.Notification) {
	payload, err := json.Marshal(WSEvent{Type: "notification.created", Payload: n})
	if err != nil {
		m.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for userID, clients := range m.userClients {
		if !n.VisibleTo(userID) {
			continue
		}
		for client := range clients {
			select {
			case client.Send <- payload:
			default:
				m.logger.Debug("Dropping frame for slow client", zap.Int64("user_id", userID))
			}
		}
	}
}

// Connections returns the number of open connections for userID
func (m *NotificationHub) Connections(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.userClients[userID])
}

// Serve upgrades an authenticated request to a websocket
func (m *NotificationHub) Serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		m.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New(),
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		UserID: userID,
	}
	select {
	case m.register <- client:
	case <-m.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(m)
}

func (c *Client) ReadPump(manager *NotificationHub) {
	defer func() {
		select {
		case manager.unregister <- c:
		case <-manager.done:
		}
		c.Conn.Close()
	}()

	for {
		// Server to client only; reads detect disconnects
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				manager.logger.Debug("websocket closed unexpectedly", zap.Int64("user_id", c.UserID), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) WritePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// native apps send no Origin
		return origin == "" || len(set) == 0 || set[origin]
	}
}
