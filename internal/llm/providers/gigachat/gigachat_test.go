// internal/llm/providers/gigachat/gigachat_test.go
package gigachat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneRelay/internal/llm"
)

func newServer(t *testing.T, oauthHits *int32, oauthStatus int) *httptest.Server {
	t.Helper()

	expires := time.Now().Add(30 * time.Minute).UnixMilli()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(oauthHits, 1)
		assert.Equal(t, "Basic secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("RqUID"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, DefaultScope, r.PostForm.Get("scope"))
		if oauthStatus != http.StatusOK {
			w.WriteHeader(oauthStatus)
			return
		}
		w.Write([]byte(`{"access_token": "tok", "expires_at": ` + strconv.FormatInt(expires, 10) + `}`))
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": " Здравствуй "}, "finish_reason": "stop"}]}`))
	})
	return httptest.NewServer(mux)
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newServer(t, &hits, http.StatusOK)
	defer srv.Close()

	p, err := llm.GetProvider("gigachat", map[string]string{
		"url": srv.URL + "/chat", "auth_url": srv.URL + "/oauth", "auth_key": "secret", "model": "GigaChat",
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "Привет"})
		require.NoError(t, err)
		assert.Equal(t, "Здравствуй", resp.Text)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOAuthFailureIsAuthError(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newServer(t, &hits, http.StatusUnauthorized)
	defer srv.Close()

	p, err := llm.GetProvider("gigachat", map[string]string{
		"url": srv.URL + "/chat", "auth_url": srv.URL + "/oauth", "auth_key": "secret",
	})
	require.NoError(t, err)

	_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, llm.ErrAuthFailed)
}

func TestMissingAuthKey(t *testing.T) {
	t.Parallel()

	_, err := llm.GetProvider("gigachat", map[string]string{"model": "GigaChat"})
	assert.ErrorIs(t, err, llm.ErrAuthFailed)
}
