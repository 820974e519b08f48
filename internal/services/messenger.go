// internal/services/messenger.go
package services

import (
	"context"

	"github.com/Corphon/SceneRelay/internal/models"
)

// 回复下方的快捷按钮回调数据
const (
	CallbackRetry    = "cb_retry"
	CallbackContinue = "continue_reply"
	CallbackEdit     = "cb_edit"

	// 选择菜单的回调前缀，后接场景、角色或服务的键
	CallbackScenario = "scenario:"
	CallbackRole     = "role:"
	CallbackService  = "service:"
)

// Button 消息按钮
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// replyButtons 每条角色回复附带的按钮
var replyButtons = []Button{
	{Text: "🔁 Повторить", Data: CallbackRetry},
	{Text: "⏭ Продолжить", Data: CallbackContinue},
	{Text: "✂️ Изменить", Data: CallbackEdit},
}

// Messenger 消息网关，消息引用对核心不透明
type Messenger interface {
	SendText(ctx context.Context, chatID, text string, buttons []Button) (models.MessageRef, error)
	DeleteMessage(ctx context.Context, chatID string, ref models.MessageRef) error
}

// Update 一次入站事件
type Update struct {
	UserID   string
	ChatID   string
	Username string
	FullName string
	Text     string
}

// Chat 回复的目标会话，缺省为用户本身
func (u Update) Chat() string {
	if u.ChatID != "" {
		return u.ChatID
	}
	return u.UserID
}
