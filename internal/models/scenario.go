// internal/models/scenario.go
package models

import "sort"

const (
	DefaultUserName  = "Пользователь"
	DefaultUserEmoji = "🧑"
)

// World 场景世界设定
type World struct {
	Name         string `json:"name"`
	Emoji        string `json:"emoji,omitempty"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
	UserRole     string `json:"user_role,omitempty"`
	UserEmoji    string `json:"user_emoji,omitempty"`
	UserName     string `json:"user_name,omitempty"`
	IntroScene   string `json:"intro_scene,omitempty"`
}

// UserTag 用户行的说话人标签
func (w World) UserTag() string {
	if w.UserName == "" {
		return DefaultUserName
	}
	return w.UserName
}

// UserDisplayEmoji 用户行展示表情
func (w World) UserDisplayEmoji() string {
	if w.UserEmoji == "" {
		return DefaultUserEmoji
	}
	return w.UserEmoji
}

// ScenarioDefinition 从文件加载的只读场景
type ScenarioDefinition struct {
	ID         string               `json:"-"`
	World      World                `json:"world"`
	Characters map[string]Character `json:"characters"`
}

// CharacterKeys 按字典序返回角色键
func (s *ScenarioDefinition) CharacterKeys() []string {
	keys := make([]string, 0, len(s.Characters))
	for k := range s.Characters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EmojiFor 返回某个说话人的展示表情，未知说话人返回空串
func (s *ScenarioDefinition) EmojiFor(speaker string) string {
	switch speaker {
	case NarratorTag:
		return NarratorEmoji
	case s.World.UserTag():
		return s.World.UserDisplayEmoji()
	}
	for _, key := range s.CharacterKeys() {
		if c := s.Characters[key]; c.Name == speaker {
			return c.DisplayEmoji()
		}
	}
	return ""
}

// FormatLine 以表情前缀展示一行，无法识别的说话人原样返回
func (s *ScenarioDefinition) FormatLine(line ConversationLine) string {
	if emoji := s.EmojiFor(line.Speaker); emoji != "" {
		return emoji + ": " + line.Text
	}
	return line.String()
}

// ScenarioSummary 场景列表条目
type ScenarioSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji,omitempty"`
	Description string `json:"description"`
	Characters  int    `json:"characters"`
}
