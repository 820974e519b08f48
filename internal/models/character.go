// internal/models/character.go
package models

// Character 场景中可扮演的角色
type Character struct {
	Name        string `json:"name"`
	Emoji       string `json:"emoji,omitempty"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// DisplayEmoji 角色回复前缀表情
func (c Character) DisplayEmoji() string {
	if c.Emoji == "" {
		return "🤖"
	}
	return c.Emoji
}
