// internal/models/line_test.go
package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		speaker string
		text    string
	}{
		{"🧑: Привет", "🧑", "Привет"},
		{"Narrator: Рассвет над лесом.", NarratorTag, "Рассвет над лесом."},
		{"Ариэль: Время: полночь", "Ариэль", "Время: полночь"},
		{"просто текст", "", "просто текст"},
		{"Ариэль:", "Ариэль", ""},
	}

	for _, tc := range cases {
		line := ParseLine(tc.raw)
		assert.Equal(t, tc.speaker, line.Speaker, tc.raw)
		assert.Equal(t, tc.text, line.Text, tc.raw)
	}
}

func TestLineStringRoundTrip(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"🧑: Привет", "Narrator: *тишина*", "Ариэль: Время: полночь", "без тега"} {
		assert.Equal(t, raw, ParseLine(raw).String())
	}
}

func TestStateDecodesLegacyJSON(t *testing.T) {
	t.Parallel()

	data := []byte(`{"history": ["🧑: Привет", "Ариэль: Привет!"], "last_input": "Привет", "last_bot_id": 4242}`)
	var state ConversationState
	require.NoError(t, json.Unmarshal(data, &state))

	require.Len(t, state.History, 2)
	assert.Equal(t, "Ариэль", state.History[1].Speaker)
	assert.Equal(t, MessageRef("4242"), state.LastBotRef)

	out, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"🧑: Привет"`)

	var nullRef ConversationState
	require.NoError(t, json.Unmarshal([]byte(`{"history": [], "last_bot_id": null}`), &nullRef))
	assert.Empty(t, nullRef.LastBotRef)
}

func TestIsValidLastExchange(t *testing.T) {
	t.Parallel()

	mk := func(raw ...string) ConversationState {
		return ConversationState{History: ParseLines(raw)}
	}

	assert.True(t, mk("🧑: Привет", "Ариэль: Привет!").IsValidLastExchange("🧑", "Ариэль"))
	assert.False(t, mk("Ариэль: Привет!").IsValidLastExchange("🧑", "Ариэль"))
	assert.False(t, mk().IsValidLastExchange("🧑", "Ариэль"))
	assert.False(t, mk("🧑: Привет", "Narrator: Тишина.").IsValidLastExchange("🧑", "Ариэль"))
	assert.False(t, mk("Ариэль: a", "Ариэль: b").IsValidLastExchange("🧑", "Ариэль"))
	assert.False(t, mk("Ариэль: a", "🧑: b").IsValidLastExchange("🧑", "Ариэль"))
	// 前缀相同但名字不同的说话人不算
	assert.False(t, mk("🧑: a", "Ариэльчик: b").IsValidLastExchange("🧑", "Ариэль"))
}

func TestScenarioFormatLine(t *testing.T) {
	t.Parallel()

	sc := &ScenarioDefinition{
		World: World{Name: "Лес", UserName: "Путник", UserEmoji: "🧝"},
		Characters: map[string]Character{
			"ariel": {Name: "Ариэль", Emoji: "🧜‍♀️"},
			"bot":   {Name: "Робот"},
		},
	}

	assert.Equal(t, "📜: Туман.", sc.FormatLine(NarratorLine("Туман.")))
	assert.Equal(t, "🧝: Эй", sc.FormatLine(NewLine("Путник", "Эй")))
	assert.Equal(t, "🧜‍♀️: Да?", sc.FormatLine(NewLine("Ариэль", "Да?")))
	assert.Equal(t, "🤖: Бип", sc.FormatLine(NewLine("Робот", "Бип")))
	assert.Equal(t, "Чужой: ?", sc.FormatLine(NewLine("Чужой", "?")))
	assert.Equal(t, []string{"ariel", "bot"}, sc.CharacterKeys())
}
