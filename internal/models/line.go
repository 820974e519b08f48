// internal/models/line.go
package models

import (
	"encoding/json"
	"strings"
)

const (
	// NarratorTag 旁白行的说话人标签
	NarratorTag = "Narrator"
	// SystemTag 系统/场景块的说话人标签，与旁白一样不参与裁剪
	SystemTag = "System"
	// NarratorEmoji 旁白行展示时使用的表情
	NarratorEmoji = "📜"
)

// ConversationLine 对话记录中的一行
//
// 磁盘上仍以 "{tag}: {text}" 字符串保存，读入时解析为结构化记录。
type ConversationLine struct {
	Speaker string
	Text    string
}

// NewLine 创建一行对话
func NewLine(speaker, text string) ConversationLine {
	return ConversationLine{Speaker: speaker, Text: text}
}

// NarratorLine 创建旁白行
func NarratorLine(text string) ConversationLine {
	return ConversationLine{Speaker: NarratorTag, Text: text}
}

// ParseLine 解析 "{tag}: {text}" 形式的旧格式字符串
//
// 以第一个冒号分隔，冒号后的单个空格被去掉。没有冒号的行视为无标签文本。
func ParseLine(raw string) ConversationLine {
	idx := strings.Index(raw, ":")
	if idx < 0 {
		return ConversationLine{Text: raw}
	}
	return ConversationLine{
		Speaker: strings.TrimSpace(raw[:idx]),
		Text:    strings.TrimPrefix(raw[idx+1:], " "),
	}
}

// String 序列化回 "{tag}: {text}"
func (l ConversationLine) String() string {
	if l.Speaker == "" {
		return l.Text
	}
	return l.Speaker + ": " + l.Text
}

// IsNarrator 是否旁白行
func (l ConversationLine) IsNarrator() bool {
	return l.Speaker == NarratorTag
}

// IsPreserved 裁剪时是否必须保留
func (l ConversationLine) IsPreserved() bool {
	return l.Speaker == NarratorTag || l.Speaker == SystemTag
}

// SpokenBy 说话人是否为 tag
func (l ConversationLine) SpokenBy(tag string) bool {
	return tag != "" && l.Speaker == tag
}

// MarshalJSON 以旧格式字符串写出
func (l ConversationLine) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON 读取旧格式字符串
func (l *ConversationLine) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = ParseLine(raw)
	return nil
}

// ParseLines 批量解析
func ParseLines(raw []string) []ConversationLine {
	lines := make([]ConversationLine, 0, len(raw))
	for _, r := range raw {
		lines = append(lines, ParseLine(r))
	}
	return lines
}

// LineStrings 批量序列化
func LineStrings(lines []ConversationLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.String())
	}
	return out
}
