// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/Corphon/SceneRelay/internal/errors"
	"github.com/Corphon/SceneRelay/internal/models"
	"github.com/Corphon/SceneRelay/internal/services"
	"github.com/Corphon/SceneRelay/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
	commandQueue   = 16
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event 推送给客户端的事件
type Event struct {
	Type    string            `json:"type"`
	Ref     models.MessageRef `json:"ref,omitempty"`
	Text    string            `json:"text,omitempty"`
	Buttons []services.Button `json:"buttons,omitempty"`
	Code    string            `json:"code,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// 事件类型
const (
	EventMessage = "message"
	EventDelete  = "delete"
	EventError   = "error"
)

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      *websocket.Conn
	userID    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    int32
	createdAt time.Time
	lastPing  atomic.Int64
}

func newWebSocketClient(conn *websocket.Conn, userID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		userID:    userID,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	client.closeOnce.Do(func() {
		atomic.StoreInt32(&client.closed, 1)
		close(client.done)
		client.conn.Close()
	})
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// push 非阻塞入队；队列满时丢弃
func (client *WebSocketClient) push(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	case <-client.done:
		return false
	default:
		return false
	}
}

// writePump 独占连接的写端
func (client *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// WebSocketHub 按用户管理连接，同时作为核心的消息网关
type WebSocketHub struct {
	mu      sync.RWMutex
	clients map[string]map[*WebSocketClient]struct{}
	metrics *utils.RelayMetrics
	logger  *utils.Logger
}

// NewWebSocketHub 创建连接中心
func NewWebSocketHub(metrics *utils.RelayMetrics) *WebSocketHub {
	if metrics == nil {
		metrics = utils.NewRelayMetrics()
	}
	return &WebSocketHub{
		clients: make(map[string]map[*WebSocketClient]struct{}),
		metrics: metrics,
		logger:  utils.GetLogger(),
	}
}

func (hub *WebSocketHub) register(client *WebSocketClient) {
	hub.mu.Lock()
	if hub.clients[client.userID] == nil {
		hub.clients[client.userID] = make(map[*WebSocketClient]struct{})
	}
	hub.clients[client.userID][client] = struct{}{}
	hub.mu.Unlock()

	hub.metrics.Collector().IncGauge("ws_clients")
	hub.logger.Info("✅ WebSocket 客户端已连接", map[string]interface{}{"user_id": client.userID})
}

func (hub *WebSocketHub) unregister(client *WebSocketClient) {
	hub.mu.Lock()
	if set, ok := hub.clients[client.userID]; ok {
		if _, present := set[client]; present {
			delete(set, client)
			hub.metrics.Collector().DecGauge("ws_clients")
		}
		if len(set) == 0 {
			delete(hub.clients, client.userID)
		}
	}
	hub.mu.Unlock()

	client.Close()
	hub.logger.Info("🔌 WebSocket 客户端已断开连接", map[string]interface{}{"user_id": client.userID})
}

// deliver 把事件推给该用户的全部连接，返回收到的连接数
func (hub *WebSocketHub) deliver(userID string, ev Event) int {
	msg, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失败", map[string]interface{}{"error": err.Error()})
		return 0
	}

	hub.mu.RLock()
	targets := make([]*WebSocketClient, 0, len(hub.clients[userID]))
	for client := range hub.clients[userID] {
		targets = append(targets, client)
	}
	hub.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.push(msg) {
			delivered++
		} else if !client.IsClosed() {
			hub.logger.Warn("⚠️ 客户端消息队列已满，消息被丢弃", map[string]interface{}{"user_id": userID})
		}
	}
	return delivered
}

// SendText 发送消息；用户没有在线连接时消息丢失
func (hub *WebSocketHub) SendText(_ context.Context, chatID, text string, buttons []services.Button) (models.MessageRef, error) {
	ref := models.MessageRef(uuid.NewString())
	hub.deliver(chatID, Event{Type: EventMessage, Ref: ref, Text: text, Buttons: buttons})
	return ref, nil
}

// DeleteMessage 通知客户端撤回消息
func (hub *WebSocketHub) DeleteMessage(_ context.Context, chatID string, ref models.MessageRef) error {
	hub.deliver(chatID, Event{Type: EventDelete, Ref: ref})
	return nil
}

// Count 当前连接数
func (hub *WebSocketHub) Count() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	total := 0
	for _, set := range hub.clients {
		total += len(set)
	}
	return total
}

// Status 获取连接状态
func (hub *WebSocketHub) Status() map[string]interface{} {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	users := make(map[string]interface{}, len(hub.clients))
	total := 0
	for userID, set := range hub.clients {
		conns := make([]map[string]interface{}, 0, len(set))
		for client := range set {
			conns = append(conns, map[string]interface{}{
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    time.Unix(0, client.lastPing.Load()).Format(time.RFC3339),
			})
		}
		users[userID] = conns
		total += len(set)
	}

	return map[string]interface{}{
		"total_users":       len(hub.clients),
		"total_connections": total,
		"users":             users,
	}
}

// Close 关闭全部连接
func (hub *WebSocketHub) Close() {
	hub.mu.RLock()
	all := make([]*WebSocketClient, 0)
	for _, set := range hub.clients {
		for client := range set {
			all = append(all, client)
		}
	}
	hub.mu.RUnlock()

	for _, client := range all {
		client.Close()
	}
}

// ServeWebSocket GET /ws：读取指令并执行，回复经连接中心推送
func (h *Handler) ServeWebSocket(c *gin.Context) {
	if h.hub == nil {
		h.response.Error(c, http.StatusServiceUnavailable, ErrorInternalError, "websocket disabled", nil)
		return
	}

	userID := GetUserFromContext(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", map[string]interface{}{"error": err.Error(), "user_id": userID})
		return
	}

	client := newWebSocketClient(conn, userID)
	h.hub.register(client)

	// 同一连接的指令按到达顺序逐条处理；断开连接不取消进行中的生成
	commands := make(chan Command, commandQueue)
	var wg sync.WaitGroup
	defer func() {
		close(commands)
		h.hub.unregister(client)
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		client.writePump()
	}()
	go func() {
		defer wg.Done()
		for cmd := range commands {
			h.dispatchWS(context.Background(), userID, cmd)
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket 读取结束", map[string]interface{}{"error": err.Error(), "user_id": userID})
			}
			return
		}

		// 生成可能很慢，读循环不能被阻塞，否则 pong 无法处理
		select {
		case commands <- cmd:
		default:
			h.hub.deliver(userID, Event{Type: EventError, Code: ErrorRateLimited, Error: "too many pending commands"})
		}
	}
}

// replyCounter 统计一次分发中已经发给用户的消息
type replyCounter struct {
	services.Messenger
	sent atomic.Int32
}

func (r *replyCounter) SendText(ctx context.Context, chatID string, text string, buttons []services.Button) (models.MessageRef, error) {
	r.sent.Add(1)
	return r.Messenger.SendText(ctx, chatID, text, buttons)
}

func (h *Handler) dispatchWS(ctx context.Context, userID string, cmd Command) {
	start := time.Now()
	out := &replyCounter{Messenger: h.hub}
	err := h.Dispatch(ctx, out, userID, cmd)

	status, code := http.StatusOK, ""
	if err != nil {
		status, code = statusFor(err)
	}
	// 会话层失败时已经给出过说明，只有没有任何回复的错误才单独推送
	if err != nil && out.sent.Load() == 0 {
		h.hub.deliver(userID, Event{Type: EventError, Code: code, Error: apperrors.UserMessage(err, sanitizeErrorMessage(err.Error()))})
	}
	h.metrics.RecordAPIRequest("ws:"+cmd.Type, "WS", status, time.Since(start))
}
