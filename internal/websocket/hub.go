package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"courseview-backend/internal/logging"
	"courseview-backend/internal/middleware"
	"courseview-backend/internal/services"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenParser verifies a bearer token and returns its subject and role.
type TokenParser interface {
	ParseToken(token string) (uuid.UUID, string, error)
}

type client struct {
	userID uuid.UUID
	conn   *websocket.Conn
	mu     sync.Mutex // serialises writes
}

// Hub streams new security alerts to connected administrators. A single
// subscription to the admin alert channel is held while any admin is connected.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*client]struct{}
	redisClient *redis.Client
	auth        TokenParser
	cancel      context.CancelFunc
}

func NewHub(redisClient *redis.Client, auth TokenParser) *Hub {
	return &Hub{
		clients:     make(map[*client]struct{}),
		redisClient: redisClient,
		auth:        auth,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, role, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if role != middleware.RoleAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn}
	h.register(c)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregister(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}

	// First admin starts the subscription
	if len(h.clients) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.subscribe(ctx)
	}

	logging.Info().Str("user_id", c.userID.String()).Int("admins", len(h.clients)).Msg("admin alert feed connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()
	delete(h.clients, c)

	if len(h.clients) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}

	logging.Info().Str("user_id", c.userID.String()).Msg("admin alert feed disconnected")
}

func (h *Hub) subscribe(ctx context.Context) {
	pubsub := h.redisClient.Subscribe(ctx, services.AdminAlertsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(envelope(msg.Payload))
		}
	}
}

// envelope wraps a published alert as {"type":"security_alert","payload":...}.
func envelope(payload string) []byte {
	data, err := json.Marshal(map[string]interface{}{
		"type":    "security_alert",
		"payload": json.RawMessage(payload),
	})
	if err != nil {
		return []byte(payload)
	}
	return data
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logging.Debug().Err(err).Str("user_id", c.userID.String()).Msg("alert feed write failed")
		}
		c.mu.Unlock()
	}
}

// Connected returns the number of admins on the live feed.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
