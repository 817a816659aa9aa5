// Package websocket 向订阅了某个地址的客户端推送新邮件通知。
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// ErrHubStopped Hub 已停止，无法再投递通知
var ErrHubStopped = errors.New("websocket hub stopped")

// MessageType WebSocket 消息类型
type MessageType string

const (
	MessageTypeNewMail    MessageType = "new_mail"
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"
)

// Message WebSocket 消息
type Message struct {
	Type      MessageType          `json:"type"`
	AddressID string               `json:"addressId,omitempty"`
	Data      *domain.NewMailEvent `json:"data,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// AddressLookup 连接前确认地址存在
type AddressLookup interface {
	Get(ctx context.Context, id string) (*domain.Address, error)
}

// Client 一个 WebSocket 连接，只订阅一个地址
type Client struct {
	id        string
	addressID string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
}

// Hub 管理所有连接，按地址分组广播
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan domain.NewMailEvent
	done       chan struct{}

	mu        sync.RWMutex
	addresses map[string]map[string]*Client // addressID -> clientID -> Client

	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub 创建 Hub，allowedOrigins 为空或包含 "*" 时不检查 Origin
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan domain.NewMailEvent, 256),
		done:       make(chan struct{}),
		addresses:  make(map[string]map[string]*Client),
		log:        logger.Component(log, "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run 处理注册、注销和广播，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("websocket hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.addresses[c.addressID] == nil {
				h.addresses[c.addressID] = make(map[string]*Client)
			}
			h.addresses[c.addressID][c.id] = c
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("client_id", c.id), zap.String("address_id", c.addressID))

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.addresses[c.addressID]; ok {
				if _, ok := clients[c.id]; ok {
					delete(clients, c.id)
					close(c.send)
				}
				if len(clients) == 0 {
					delete(h.addresses, c.addressID)
				}
			}
			h.mu.Unlock()

		case evt := <-h.broadcast:
			h.deliver(evt)
		}
	}
}

// PublishNewMail 把新邮件通知排入广播队列
func (h *Hub) PublishNewMail(ctx context.Context, evt domain.NewMailEvent) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- evt:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers 当前订阅某地址的连接数
func (h *Hub) Subscribers(addressID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.addresses[addressID])
}

func (h *Hub) deliver(evt domain.NewMailEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.addresses[evt.AddressID]
	if len(clients) == 0 {
		return
	}
	data, err := json.Marshal(Message{
		Type:      MessageTypeNewMail,
		AddressID: evt.AddressID,
		Data:      &evt,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}
	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("client channel blocked, dropping notification", zap.String("client_id", c.id))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.addresses {
		for _, c := range clients {
			close(c.send)
		}
	}
	h.addresses = make(map[string]map[string]*Client)
}

// HandleWebSocket 升级连接并订阅路径中的地址
func HandleWebSocket(hub *Hub, addresses AddressLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		addressID := c.Param("id")
		if _, err := addresses.Get(c.Request.Context(), addressID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrAddressNotFound) {
				status = http.StatusNotFound
			}
			c.AbortWithStatusJSON(status, gin.H{
				"success": false,
				"error":   gin.H{"code": domain.KindOf(err).String(), "message": err.Error()},
			})
			return
		}

		conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			id:        uuid.NewString(),
			addressID: addressID,
			conn:      conn,
			send:      make(chan []byte, sendBuffer),
			hub:       hub,
		}
		if data, err := json.Marshal(Message{Type: MessageTypeSubscribed, AddressID: addressID, Timestamp: time.Now().UTC()}); err == nil {
			client.send <- data
		}
		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 读取客户端消息，连接断开时注销
func (c *Client) readPump() {
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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket closed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendMessage(Message{Type: MessageTypeError, Error: "invalid message", Timestamp: time.Now().UTC()})
			continue
		}
		if msg.Type == MessageTypePing {
			c.sendMessage(Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
		}
	}
}

// writePump 发送排队的消息并定期 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// sendMessage 只在连接仍处于注册状态时排队，缓冲满时丢弃
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.addresses[c.addressID][c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
