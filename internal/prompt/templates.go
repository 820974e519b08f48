// internal/prompt/templates.go
package prompt

import (
	"fmt"
	"strings"

	"github.com/Corphon/SceneRelay/internal/models"
)

// SceneHistoryLines 场景提示词中携带的最近对话行数
const SceneHistoryLines = 5

// SystemPrompt 角色扮演的系统前导
func SystemPrompt(world models.World, char models.Character) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(world.SystemPrompt))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Пользователь — %s, %s, %s.\n",
		world.UserDisplayEmoji(), world.UserTag(), strings.TrimSpace(world.UserRole))
	b.WriteString(strings.TrimSpace(char.Prompt))
	b.WriteString("\n")
	b.WriteString("Если пользователь пишет *в звёздочках* — это действие.\n")
	b.WriteString("Реагируй на поведение, не повторяя его в ответ.\n")
	b.WriteString("Отвечай кратко, по делу. Пиши как в визуальной новелле: короткие реплики, меньше описаний.")
	return b.String()
}

// ScenePrompt 旁白视角的场景生成提示词，recent 为空时不附带对话
func ScenePrompt(world models.World, char models.Character, recent []models.ConversationLine) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(world.SystemPrompt))
	b.WriteString("\n\n")
	b.WriteString("Ты пишешь сцену в жанре ролевой игры.\n")
	fmt.Fprintf(&b, "Ты играешь за персонажа — %s %s, %s.\n ", char.Emoji, char.Name, char.Description)
	fmt.Fprintf(&b, "Пользователь играет роль главного героя — %s, %s, %s.\n",
		world.UserDisplayEmoji(), world.UserTag(), strings.TrimSpace(world.UserRole))
	b.WriteString("Опиши насыщенную, атмосферную и короткую сцену, как в визуальной новелле или аниме. ")
	b.WriteString("Где находятся герои, как выглядят, какие предметы их окружают, и другие детали, котрые помогают читателю представить сцену.\n")
	b.WriteString("Текст — от лица рассказчика.\n")
	fmt.Fprintf(&b, "В сцене присутствуют твой персонаж (%s) и персонаж %s.\n", char.Name, world.UserTag())

	if len(recent) > 0 {
		b.WriteString("Последние события диалога:\n")
		b.WriteString(strings.Join(models.LineStrings(recent), "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}

// WrapChatML 把单段提示词包成 system 块并打开 assistant 回合
func WrapChatML(p string) string {
	return chatmlBlock(roleSystem, p) + "\n" + imStart + roleAssistant + "\n"
}

// ContinueDirective 续写指令
func ContinueDirective(characterName string) string {
	return fmt.Sprintf("Продолжи последнюю реплику персонажа %s с того места, где она оборвалась. Не повторяй уже сказанное.", characterName)
}

// ContinuationPrompt 不带尾部的提示词加上续写指令
func ContinuationPrompt(format Format, in Input) string {
	body := Assemble(format, in, false)
	directive := ContinueDirective(in.CharacterName)
	if format == FormatChatML {
		return body + "\n" + chatmlBlock(roleSystem, directive)
	}
	return body + "\n" + directive
}
