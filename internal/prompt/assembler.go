// internal/prompt/assembler.go
package prompt

import (
	"strings"

	"github.com/Corphon/SceneRelay/internal/models"
)

// Format 提示词序列化方式
type Format int

const (
	// FormatPlain "{speaker}: {text}" 逐行拼接
	FormatPlain Format = iota
	// FormatChatML <|im_start|>role ... <|im_end|> 分块
	FormatChatML
)

const (
	imStart = "<|im_start|>"
	imEnd   = "<|im_end|>"

	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// FormatFor 根据服务的 chatml 开关选择格式
func FormatFor(chatml bool) Format {
	if chatml {
		return FormatChatML
	}
	return FormatPlain
}

// String 返回格式名
func (f Format) String() string {
	if f == FormatChatML {
		return "chatml"
	}
	return "plain"
}

// Input 组装提示词所需的全部输入
type Input struct {
	Preamble      string
	History       []models.ConversationLine
	UserTag       string
	CharacterName string
}

// Assemble 按格式渲染；tail 为 true 时末尾留出角色的发言位置
func Assemble(format Format, in Input, tail bool) string {
	if format == FormatChatML {
		return ChatML(in, tail)
	}
	return Plain(in, tail)
}

// Plain 渲染纯文本提示词
func Plain(in Input, tail bool) string {
	var b strings.Builder
	b.WriteString(in.Preamble)
	b.WriteByte('\n')
	for i, line := range in.History {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line.String())
	}
	if tail {
		b.WriteString("\n" + in.CharacterName + ":")
	}
	return b.String()
}

// ChatML 渲染分块提示词
func ChatML(in Input, tail bool) string {
	blocks := make([]string, 0, len(in.History)+2)
	blocks = append(blocks, chatmlBlock(roleSystem, in.Preamble))

	for _, line := range in.History {
		blocks = append(blocks, chatmlBlock(roleOf(line, in), strings.TrimSpace(line.Text)))
	}

	if tail {
		blocks = append(blocks, imStart+roleAssistant+"\n")
	}
	return strings.Join(blocks, "\n")
}

// roleOf 说话人到 ChatML 角色的映射；未知说话人保留原标签
func roleOf(line models.ConversationLine, in Input) string {
	switch {
	case line.SpokenBy(in.UserTag):
		return roleUser
	case line.IsNarrator(), line.Speaker == models.SystemTag, line.Speaker == "":
		return roleSystem
	case line.SpokenBy(in.CharacterName):
		return roleAssistant
	default:
		return line.Speaker
	}
}

func chatmlBlock(role, text string) string {
	return imStart + role + "\n" + text + imEnd
}
