// internal/tokens/estimator.go
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/Corphon/SceneRelay/internal/utils"
)

// DefaultEncoding is used when the configured encoding cannot be loaded
const DefaultEncoding = "r50k_base"

// HeuristicEncoding selects the offline character-based estimator
const HeuristicEncoding = "heuristic"

// aliases maps legacy encoding names to tiktoken-go names
var aliases = map[string]string{
	"gpt2":   "r50k_base",
	"gpt-2":  "r50k_base",
	"gpt3":   "p50k_base",
	"gpt-4":  "cl100k_base",
	"gpt-4o": "o200k_base",
}

// Estimator converts text into a token cost
type Estimator interface {
	Count(text string) int
}

// TiktokenEstimator counts BPE tokens of one encoding
type TiktokenEstimator struct {
	name string
	enc  *tiktoken.Tiktoken
}

// Count returns the token count of text
func (e *TiktokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

// Encoding returns the resolved encoding name
func (e *TiktokenEstimator) Encoding() string {
	return e.name
}

// HeuristicEstimator approximates four characters per token
type HeuristicEstimator struct{}

// Count returns ceil(runes/4)
func (HeuristicEstimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Encoding names the estimator in logs
func (HeuristicEstimator) Encoding() string {
	return HeuristicEncoding
}

var (
	estimatorsMu sync.Mutex
	estimators   = map[string]Estimator{}
)

// ForEncoding returns a cached estimator for name and never fails.
// An unknown or unloadable encoding falls back to DefaultEncoding, then to HeuristicEstimator.
func ForEncoding(name string) Estimator {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	if key == "" {
		key = DefaultEncoding
	}
	if key == HeuristicEncoding {
		return HeuristicEstimator{}
	}

	estimatorsMu.Lock()
	defer estimatorsMu.Unlock()

	if est, ok := estimators[key]; ok {
		return est
	}

	est := load(key)
	estimators[key] = est
	return est
}

func load(key string) Estimator {
	logger := utils.GetLogger()

	enc, err := tiktoken.GetEncoding(key)
	if err == nil {
		return &TiktokenEstimator{name: key, enc: enc}
	}

	if key != DefaultEncoding {
		logger.Warn("unknown token encoding, falling back to default", map[string]interface{}{
			"encoding": key,
			"fallback": DefaultEncoding,
			"error":    err.Error(),
		})
		if enc, err = tiktoken.GetEncoding(DefaultEncoding); err == nil {
			return &TiktokenEstimator{name: DefaultEncoding, enc: enc}
		}
	}

	logger.Warn("token encoding unavailable, using character heuristic", map[string]interface{}{
		"encoding": key,
		"error":    err.Error(),
	})
	return HeuristicEstimator{}
}
