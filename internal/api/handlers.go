// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/SceneRelay/internal/errors"
	"github.com/Corphon/SceneRelay/internal/llm"
	"github.com/Corphon/SceneRelay/internal/services"
	"github.com/Corphon/SceneRelay/internal/utils"
)

// 命令类型
const (
	CommandMessage   = "message"
	CommandRetry     = "retry"
	CommandContinue  = "continue"
	CommandEdit      = "edit"
	CommandReset     = "reset"
	CommandScene     = "scene"
	CommandHistory   = "history"
	CommandWhoami    = "whoami"
	CommandLang      = "lang"
	CommandScenario  = "scenario"
	CommandRole      = "role"
	CommandService   = "service"
	CommandCallback  = "callback"
	CommandScenarios = "scenarios"
	CommandRoles     = "roles"
	CommandServices  = "services"
)

// Command 一条入站指令；HTTP 与 WebSocket 共用
type Command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
	Data string `json:"data,omitempty"`

	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// GatewayStats 生成网关的排队状态
type GatewayStats interface {
	Stats() map[string]services.GateStats
}

// Handler 处理API请求
type Handler struct {
	sessions *services.SessionService
	gateway  GatewayStats
	hub      *WebSocketHub
	metrics  *utils.RelayMetrics
	logger   *utils.Logger
	started  time.Time
	response *ResponseHelper
}

// NewHandler 创建API处理器；gateway 与 hub 可以为 nil
func NewHandler(sessions *services.SessionService, gateway GatewayStats, hub *WebSocketHub, metrics *utils.RelayMetrics) *Handler {
	if metrics == nil {
		metrics = utils.NewRelayMetrics()
	}
	return &Handler{
		sessions: sessions,
		gateway:  gateway,
		hub:      hub,
		metrics:  metrics,
		logger:   utils.GetLogger(),
		started:  time.Now(),
		response: NewResponseHelper(),
	}
}

// slashCommands 消息文本中的 /命令
var slashCommands = map[string]string{
	"/start":    CommandScenarios,
	"/scenario": CommandScenario,
	"/role":     CommandRole,
	"/service":  CommandService,
	"/reset":    CommandReset,
	"/scene":    CommandScene,
	"/history":  CommandHistory,
	"/whoami":   CommandWhoami,
	"/lang":     CommandLang,
	"/retry":    CommandRetry,
	"/continue": CommandContinue,
	"/edit":     CommandEdit,
}

// normalize 把 /命令 形式的消息改写为对应指令；不带参数的选择命令显示菜单
func normalize(cmd Command) Command {
	if cmd.Type != CommandMessage || !strings.HasPrefix(cmd.Text, "/") {
		return cmd
	}

	name, arg, _ := strings.Cut(strings.TrimSpace(cmd.Text), " ")
	typ, ok := slashCommands[name]
	if !ok {
		return cmd
	}

	cmd.Type, cmd.Key, cmd.Text = typ, strings.TrimSpace(arg), ""
	if cmd.Key == "" {
		switch typ {
		case CommandScenario:
			cmd.Type = CommandScenarios
		case CommandRole:
			cmd.Type = CommandRoles
		case CommandService:
			cmd.Type = CommandServices
		}
	}
	return cmd
}

// Dispatch 执行一条指令，回复经 out 发出
func (h *Handler) Dispatch(ctx context.Context, out services.Messenger, userID string, cmd Command) error {
	cmd = normalize(cmd)
	u := services.Update{UserID: userID, Username: cmd.Username, FullName: cmd.FullName, Text: cmd.Text}

	switch cmd.Type {
	case CommandMessage:
		if strings.TrimSpace(cmd.Text) == "" {
			return apperrors.NewValidationError("text is required", nil)
		}
		return h.sessions.HandleMessage(ctx, out, u)
	case CommandRetry:
		return h.sessions.Retry(ctx, out, u)
	case CommandContinue:
		return h.sessions.Continue(ctx, out, u)
	case CommandEdit:
		return h.sessions.Edit(ctx, out, u)
	case CommandReset:
		return h.sessions.Reset(ctx, out, u)
	case CommandScene:
		return h.sessions.Scene(ctx, out, u)
	case CommandHistory:
		return h.sessions.ShowHistory(ctx, out, u)
	case CommandWhoami:
		return h.sessions.Whoami(ctx, out, u)
	case CommandLang:
		_, err := h.sessions.ToggleTranslation(ctx, out, u)
		return err
	case CommandScenarios:
		return h.sessions.ShowScenarios(ctx, out, u)
	case CommandRoles:
		return h.sessions.ShowRoles(ctx, out, u)
	case CommandServices:
		return h.sessions.ShowServices(ctx, out, u)
	case CommandScenario, CommandRole, CommandService:
		if cmd.Key == "" {
			return apperrors.NewValidationError("key is required", nil)
		}
		return h.selectByType(ctx, out, u, cmd.Type, cmd.Key)
	case CommandCallback:
		return h.callback(ctx, out, u, cmd.Data)
	default:
		return apperrors.NewValidationError("unknown command: "+cmd.Type, nil)
	}
}

func (h *Handler) selectByType(ctx context.Context, out services.Messenger, u services.Update, typ, key string) error {
	switch typ {
	case CommandScenario:
		return h.sessions.SelectScenario(ctx, out, u, key)
	case CommandRole:
		return h.sessions.SelectRole(ctx, out, u, key)
	default:
		return h.sessions.SelectService(ctx, out, u, key)
	}
}

// callback 按钮回调
func (h *Handler) callback(ctx context.Context, out services.Messenger, u services.Update, data string) error {
	switch {
	case data == services.CallbackRetry:
		return h.sessions.Retry(ctx, out, u)
	case data == services.CallbackContinue:
		return h.sessions.Continue(ctx, out, u)
	case data == services.CallbackEdit:
		return h.sessions.Edit(ctx, out, u)
	case strings.HasPrefix(data, services.CallbackScenario):
		return h.sessions.SelectScenario(ctx, out, u, strings.TrimPrefix(data, services.CallbackScenario))
	case strings.HasPrefix(data, services.CallbackRole):
		return h.sessions.SelectRole(ctx, out, u, strings.TrimPrefix(data, services.CallbackRole))
	case strings.HasPrefix(data, services.CallbackService):
		return h.sessions.SelectService(ctx, out, u, strings.TrimPrefix(data, services.CallbackService))
	default:
		return apperrors.NewValidationError("unknown callback: "+data, nil)
	}
}

// run 用 Recorder 执行指令并把回复写入响应
func (h *Handler) run(c *gin.Context, cmd Command) {
	rec := NewRecorder()
	err := h.Dispatch(c.Request.Context(), rec, GetUserFromContext(c), cmd)
	if err != nil {
		h.response.FromError(c, err, rec.Replies())
		return
	}
	h.response.Success(c, rec.Replies())
}

// command 固定类型的无参数指令
func (h *Handler) command(typ string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.run(c, Command{Type: typ})
	}
}

// messageRequest POST /messages
type messageRequest struct {
	Text     string `json:"text" binding:"required"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// SendMessage 用户发言
func (h *Handler) SendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, err.Error())
		return
	}
	h.run(c, Command{Type: CommandMessage, Text: req.Text, Username: req.Username, FullName: req.FullName})
}

// selectRequest POST /scenario、/role、/service
type selectRequest struct {
	Key string `json:"key" binding:"required"`
}

// selection 选择场景、角色或服务
func (h *Handler) selection(typ string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req selectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.response.BadRequest(c, err.Error())
			return
		}
		h.run(c, Command{Type: typ, Key: req.Key})
	}
}

// Callback 按钮回调
func (h *Handler) Callback(c *gin.Context) {
	var req struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, err.Error())
		return
	}
	h.run(c, Command{Type: CommandCallback, Data: req.Data})
}

// GetHistory 当前场景的历史，按消息长度分段
func (h *Handler) GetHistory(c *gin.Context) {
	userID := GetUserFromContext(c)
	chunks, err := h.sessions.HistoryView(userID)
	if err != nil {
		h.response.FromError(c, err, nil)
		return
	}
	st, _ := h.sessions.History(userID)
	data := gin.H{
		"chunks":     chunks,
		"lines":      len(st.History),
		"last_input": st.LastInput,
	}
	// 还没选角色时只返回历史
	if def, char, err := h.sessions.ActiveCharacter(userID); err == nil {
		data["world"] = def.World.Name
		data["character"] = char.Name
	}
	h.response.Success(c, data)
}

// GetScenarios 场景目录
func (h *Handler) GetScenarios(c *gin.Context) {
	list, err := h.sessions.ListScenarios()
	if err != nil {
		h.response.InternalError(c, err.Error())
		return
	}
	h.response.Success(c, list)
}

// GetServices 服务列表
func (h *Handler) GetServices(c *gin.Context) {
	h.response.Success(c, h.sessions.ListServices(GetUserFromContext(c)))
}

// GetStatus 运行状态
func (h *Handler) GetStatus(c *gin.Context) {
	status := gin.H{
		"started":   humanize.Time(h.started),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"sessions":  h.sessions.Stats(),
		"providers": llm.ListProviders(),
	}
	if h.gateway != nil {
		status["gateway"] = h.gateway.Stats()
	}
	if h.hub != nil {
		status["websocket"] = h.hub.Status()
	}
	h.response.Success(c, status)
}

// GetMetrics 指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Collector().GetMetrics())
}
