// internal/prompt/prompt_test.go
package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/SceneRelay/internal/models"
)

func input(raw ...string) Input {
	return Input{
		Preamble:      "PRE",
		History:       models.ParseLines(raw),
		UserTag:       "🧑",
		CharacterName: "Ариэль",
	}
}

func TestPlainFirstMessage(t *testing.T) {
	t.Parallel()

	in := input("🧑: Привет")
	assert.Equal(t, "PRE\n🧑: Привет\nАриэль:", Plain(in, true))
	assert.Equal(t, "PRE\n🧑: Привет", Plain(in, false))
}

func TestPlainEmptyHistory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PRE\n", Plain(input(), false))
	assert.Equal(t, "PRE\n\nАриэль:", Plain(input(), true))
}

func TestChatMLRoles(t *testing.T) {
	t.Parallel()

	in := input("Narrator: Рассвет.", "🧑: Привет ", "Ариэль: Привет!", "Кот: Мяу", "без тега")
	want := strings.Join([]string{
		"<|im_start|>system\nPRE<|im_end|>",
		"<|im_start|>system\nРассвет.<|im_end|>",
		"<|im_start|>user\nПривет<|im_end|>",
		"<|im_start|>assistant\nПривет!<|im_end|>",
		"<|im_start|>Кот\nМяу<|im_end|>",
		"<|im_start|>system\nбез тега<|im_end|>",
	}, "\n")

	assert.Equal(t, want, ChatML(in, false))
	assert.Equal(t, want+"\n<|im_start|>assistant\n", ChatML(in, true))
}

func TestAssembleDeterministic(t *testing.T) {
	t.Parallel()

	in := input("🧑: a", "Ариэль: b", "Narrator: c")
	for _, f := range []Format{FormatPlain, FormatChatML} {
		for _, tail := range []bool{true, false} {
			assert.Equal(t, Assemble(f, in, tail), Assemble(f, input("🧑: a", "Ариэль: b", "Narrator: c"), tail))
		}
	}
	assert.Equal(t, FormatChatML, FormatFor(true))
	assert.Equal(t, "plain", FormatFor(false).String())
}

func TestContinuationPrompt(t *testing.T) {
	t.Parallel()

	in := input("🧑: Привет", "Ариэль: Ну")
	plain := ContinuationPrompt(FormatPlain, in)
	assert.True(t, strings.HasPrefix(plain, "PRE\n🧑: Привет\nАриэль: Ну\n"))
	assert.True(t, strings.HasSuffix(plain, ContinueDirective("Ариэль")))

	cm := ContinuationPrompt(FormatChatML, in)
	assert.True(t, strings.HasPrefix(cm, ChatML(in, false)+"\n<|im_start|>system\n"))
	assert.True(t, strings.HasSuffix(cm, "<|im_end|>"))
}

func TestTemplates(t *testing.T) {
	t.Parallel()

	world := models.World{SystemPrompt: "  Мир эльфов. ", UserRole: " странник "}
	char := models.Character{Name: "Ариэль", Emoji: "🧜‍♀️", Description: "русалка", Prompt: " Ты Ариэль. "}

	sys := SystemPrompt(world, char)
	assert.True(t, strings.HasPrefix(sys, "Мир эльфов.\n\nПользователь — 🧑, Пользователь, странник.\nТы Ариэль.\n"))
	assert.True(t, strings.HasSuffix(sys, "меньше описаний."))

	scene := ScenePrompt(world, char, nil)
	assert.Contains(t, scene, "Ты играешь за персонажа — 🧜‍♀️ Ариэль, русалка.\n ")
	assert.NotContains(t, scene, "Последние события")

	scene = ScenePrompt(world, char, models.ParseLines([]string{"🧑: a", "Ариэль: b"}))
	assert.True(t, strings.HasSuffix(scene, "Последние события диалога:\n🧑: a\nАриэль: b\n\n"))

	assert.Equal(t, "<|im_start|>system\nX<|im_end|>\n<|im_start|>assistant\n", WrapChatML("X"))
}
