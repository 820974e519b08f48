// internal/tokens/estimator_test.go
package tokens

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteLoader serves a vocabulary of the 256 single bytes, so one token equals one byte
type byteLoader struct{}

func (byteLoader) LoadTiktokenBpe(string) (map[string]int, error) {
	ranks := make(map[string]int, 256)
	for i := 0; i < 256; i++ {
		ranks[string([]byte{byte(i)})] = i
	}
	return ranks, nil
}

func TestMain(m *testing.M) {
	tiktoken.SetBpeLoader(byteLoader{})
	os.Exit(m.Run())
}

func TestForEncodingCountsDeterministically(t *testing.T) {
	t.Parallel()

	est := ForEncoding("gpt2")
	assert.Equal(t, 0, est.Count(""))
	assert.Equal(t, len("hello world"), est.Count("hello world"))
	assert.Equal(t, est.Count("🧑: Привет"), est.Count("🧑: Привет"))
	assert.Equal(t, len("🧑: Привет"), est.Count("🧑: Привет"))

	tk, ok := est.(*TiktokenEstimator)
	require.True(t, ok)
	assert.Equal(t, "r50k_base", tk.Encoding())
	assert.Same(t, est, ForEncoding("GPT2"))
}

func TestForEncodingUnknownFallsBack(t *testing.T) {
	t.Parallel()

	est := ForEncoding("no_such_encoding")
	tk, ok := est.(*TiktokenEstimator)
	require.True(t, ok)
	assert.Equal(t, DefaultEncoding, tk.Encoding())
	assert.Equal(t, 3, est.Count("abc"))
}

func TestHeuristicEstimator(t *testing.T) {
	t.Parallel()

	var h HeuristicEstimator
	assert.Equal(t, 0, h.Count(""))
	assert.Equal(t, 1, h.Count("abc"))
	assert.Equal(t, 2, h.Count("Привет"))
}

func TestCachingLoaderDownloadsOnce(t *testing.T) {
	t.Parallel()

	var hits int32
	body := fmt.Sprintf("%s 0\n%s 1\n",
		base64.StdEncoding.EncodeToString([]byte("a")),
		base64.StdEncoding.EncodeToString([]byte("ab")))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	loader := NewCachingLoader(dir, srv.Client())

	ranks, err := loader.LoadTiktokenBpe(srv.URL + "/enc/test.tiktoken")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "ab": 1}, ranks)

	_, err = os.Stat(filepath.Join(dir, "test.tiktoken"))
	require.NoError(t, err)

	again, err := loader.LoadTiktokenBpe(srv.URL + "/enc/test.tiktoken")
	require.NoError(t, err)
	assert.Equal(t, ranks, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCachingLoaderHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewCachingLoader(t.TempDir(), srv.Client()).LoadTiktokenBpe(srv.URL + "/x.tiktoken")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "404"))
}
