// internal/tokens/bpe_loader.go
package tokens

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/Corphon/SceneRelay/internal/utils"
)

const downloadTimeout = 30 * time.Second

var initLoaderOnce sync.Once

// InitLoader registers the caching BPE loader with tiktoken-go. Only the first call has effect.
func InitLoader(cacheDir string) {
	initLoaderOnce.Do(func() {
		tiktoken.SetBpeLoader(NewCachingLoader(cacheDir, nil))
	})
}

// CachingLoader serves rank files from cacheDir and downloads missing ones
type CachingLoader struct {
	cacheDir string
	client   *http.Client
	mu       sync.Mutex
}

// NewCachingLoader creates a loader; a nil client gets a 30s timeout client
func NewCachingLoader(cacheDir string, client *http.Client) *CachingLoader {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &CachingLoader{cacheDir: cacheDir, client: client}
}

// LoadTiktokenBpe satisfies tiktoken.BpeLoader
func (l *CachingLoader) LoadTiktokenBpe(url string) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cacheFile := filepath.Join(l.cacheDir, path.Base(url))
	if data, err := os.ReadFile(cacheFile); err == nil {
		return parseBpeRanks(data)
	}

	data, err := l.download(url)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path.Base(url), err)
	}

	if err := os.MkdirAll(l.cacheDir, 0755); err != nil {
		utils.GetLogger().Warn("failed to create tiktoken cache directory", map[string]interface{}{
			"path": l.cacheDir, "error": err.Error(),
		})
	} else if err := writeFileAtomic(cacheFile, data); err != nil {
		utils.GetLogger().Warn("failed to persist BPE cache", map[string]interface{}{
			"path": cacheFile, "error": err.Error(),
		})
	}

	return parseBpeRanks(data)
}

func (l *CachingLoader) download(url string) ([]byte, error) {
	resp, err := l.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// parseBpeRanks reads "base64(token) rank" lines
func parseBpeRanks(data []byte) (map[string]int, error) {
	ranks := make(map[string]int, 50000)
	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		token, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("decode BPE token: %w", err)
		}
		rank, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parse BPE rank: %w", err)
		}
		ranks[string(token)] = rank
	}
	return ranks, nil
}

func writeFileAtomic(name string, data []byte) error {
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, name); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
