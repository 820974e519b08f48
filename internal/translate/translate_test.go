// internal/translate/translate_test.go
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tagBackend prefixes each part with the target language and fails on "FAIL"
type tagBackend struct{}

func (tagBackend) Translate(_ context.Context, text, target string) (string, error) {
	if strings.Contains(text, "FAIL") {
		return "", errors.New("backend down")
	}
	return "[" + target + "]" + text, nil
}

func TestSplitTextAtDelimiters(t *testing.T) {
	t.Parallel()

	parts := SplitText("Один. Два! Три? Четыре", 12)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 12)
	}
	assert.Equal(t, []string{"Один. Два!", "Три? Четыре"}, parts)
	assert.Equal(t, "Один. Два! Три? Четыре", strings.Join(parts, " "))
}

func TestSplitTextHardCut(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("я", 25)
	parts := SplitText(text, 10)
	require.Len(t, parts, 3)
	assert.Equal(t, strings.Repeat("я", 10), parts[0])
	assert.Equal(t, text, strings.Join(parts, ""))

	// flags are never split in half
	flags := strings.Repeat("🇷🇺", 6)
	for _, p := range SplitText(flags, 5) {
		assert.True(t, utf8.ValidString(p))
		assert.Equal(t, 0, utf8.RuneCountInString(p)%2)
	}

	assert.Empty(t, SplitText("   ", 10))
}

func TestNormalizeLang(t *testing.T) {
	t.Parallel()

	got, err := NormalizeLang("EN")
	require.NoError(t, err)
	assert.Equal(t, "en", got)

	got, err = NormalizeLang("ru-RU")
	require.NoError(t, err)
	assert.Equal(t, "ru", got)

	_, err = NormalizeLang("not a tag!")
	assert.Error(t, err)
}

func TestTranslatePlain(t *testing.T) {
	t.Parallel()

	p := NewPromptTranslator(tagBackend{}, 1000, 2)
	assert.Equal(t, "[en]Привет", p.Translate(context.Background(), "Привет", "EN"))
	assert.Equal(t, "FAIL here", p.Translate(context.Background(), "FAIL here", "en"))
	assert.Equal(t, "as is", p.Translate(context.Background(), "as is", "??"))
}

func TestTranslateChatMLKeepsBlocks(t *testing.T) {
	t.Parallel()

	p := NewPromptTranslator(tagBackend{}, 1000, 4)
	in := "<|im_start|>system\nМир<|im_end|>\n<|im_start|>user\nFAIL<|im_end|>\n<|im_start|>assistant\n"

	out := p.Translate(context.Background(), in, "en")
	assert.Equal(t,
		"<|im_start|>system\n[en]Мир\n<|im_end|>\n<|im_start|>user\nFAIL\n<|im_end|>\n<|im_start|>assistant\n",
		out)
}

func TestTranslateJoinsPartsInOrder(t *testing.T) {
	t.Parallel()

	p := NewPromptTranslator(tagBackend{}, 6, 3)
	out := p.Translate(context.Background(), "Раз. Два. Три.", "en")
	assert.Equal(t, "[en]Раз.\n[en]Два.\n[en]Три.", out)
}

func TestLibreTranslate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auto", req["source"])
		assert.Equal(t, "en", req["target"])
		assert.Equal(t, "k", req["api_key"])
		w.Write([]byte(`{"translatedText": "Hello"}`))
	}))
	defer srv.Close()

	out, err := NewLibreTranslate(srv.URL, "k", 0).Translate(context.Background(), "Привет", "en")
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}
