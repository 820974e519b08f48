// internal/llm/providers/ollama/ollama_test.go
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneRelay/internal/llm"
)

func TestCompleteTextForwardsOptions(t *testing.T) {
	t.Parallel()

	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"response": "  Привет!  ", "done_reason": "stop", "eval_count": 4}`))
	}))
	defer srv.Close()

	p, err := llm.GetProvider("ollama", map[string]string{"url": srv.URL, "model": "llama3"})
	require.NoError(t, err)

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{
		Prompt:          "PRE\n🧑: Привет\nАриэль:",
		Temperature:     1.0,
		TopP:            0.95,
		MinP:            0.05,
		RepeatPenalty:   1.1,
		StopWords:       []string{"🧑:"},
		ContextTokens:   7000,
		MaxOutputTokens: 2048,
		KeepAlive:       1200,
	})
	require.NoError(t, err)
	assert.Equal(t, "Привет!", resp.Text)
	assert.Equal(t, 4, resp.OutputTokens)

	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, float64(1200), got["keep_alive"])
	opts := got["options"].(map[string]interface{})
	assert.Equal(t, float64(7000), opts["num_ctx"])
	assert.Equal(t, float64(2048), opts["num_predict"])
	assert.Equal(t, []interface{}{"🧑:"}, opts["stop"])
}

func TestCompleteTextErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			w.Write([]byte(`{"done": true}`))
			return
		}
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := llm.GetProvider("ollama", map[string]string{"url": srv.URL + "/missing", "model": "m"})
	require.NoError(t, err)
	_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"})
	var statusErr *llm.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	p, err = llm.GetProvider("ollama", map[string]string{"url": srv.URL + "/empty", "model": "m"})
	require.NoError(t, err)
	_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)

	_, err = llm.GetProvider("ollama", map[string]string{})
	assert.Error(t, err)
}
