// internal/models/conversation.go
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// MessageRef 消息网关返回的不透明消息引用
type MessageRef string

// UnmarshalJSON 兼容旧数据中的数字消息ID
func (r *MessageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = MessageRef(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*r = MessageRef(strconv.FormatInt(n, 10))
	return nil
}

// ConversationState 某用户在某场景下的对话状态
type ConversationState struct {
	History    []ConversationLine `json:"history"`
	LastInput  string             `json:"last_input"`
	LastBotRef MessageRef         `json:"last_bot_id,omitempty"`
}

// Clone 深拷贝，调用方可随意修改
func (s ConversationState) Clone() ConversationState {
	cp := s
	cp.History = append([]ConversationLine(nil), s.History...)
	return cp
}

// Last 返回倒数第 n 行（n 从 1 开始）
func (s ConversationState) Last(n int) (ConversationLine, bool) {
	if n <= 0 || n > len(s.History) {
		return ConversationLine{}, false
	}
	return s.History[len(s.History)-n], true
}

// Tail 返回最后 n 行
func (s ConversationState) Tail(n int) []ConversationLine {
	if n >= len(s.History) {
		return append([]ConversationLine(nil), s.History...)
	}
	return append([]ConversationLine(nil), s.History[len(s.History)-n:]...)
}

// IsValidLastExchange 最后两行是否为 (用户, 角色) 的一问一答
func (s ConversationState) IsValidLastExchange(userTag, characterName string) bool {
	if len(s.History) < 2 {
		return false
	}
	prev := s.History[len(s.History)-2]
	last := s.History[len(s.History)-1]
	return prev.SpokenBy(userTag) && last.SpokenBy(characterName)
}
