// internal/translate/translator.go
package translate

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/Corphon/SceneRelay/internal/llm"
	"github.com/Corphon/SceneRelay/internal/utils"
)

// Backend 翻译服务
type Backend interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// NormalizeLang 把 "EN"、"en-US" 等规范为基础语言代码
func NormalizeLang(tag string) (string, error) {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return "", fmt.Errorf("无效的语言标签 %q: %w", tag, err)
	}
	base, _ := t.Base()
	return base.String(), nil
}

// LibreTranslate LibreTranslate 兼容的 HTTP 翻译服务
type LibreTranslate struct {
	url    string
	apiKey string
	client *http.Client
}

// NewLibreTranslate 创建客户端，url 为完整的 /translate 地址
func NewLibreTranslate(url, apiKey string, timeout time.Duration) *LibreTranslate {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LibreTranslate{url: url, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

func (l *LibreTranslate) Translate(ctx context.Context, text, target string) (string, error) {
	data, err := llm.PostJSON(ctx, l.client, l.url, nil, libreRequest{
		Q:      text,
		Source: "auto",
		Target: target,
		Format: "text",
		APIKey: l.apiKey,
	})
	if err != nil {
		return "", err
	}

	out := gjson.GetBytes(data, "translatedText")
	if !out.Exists() {
		return "", fmt.Errorf("翻译响应缺少 translatedText")
	}
	return out.String(), nil
}

// chatmlBlock 匹配 <|im_start|>role\n ... <|im_end|>
var chatmlBlock = regexp.MustCompile(`(?s)(<\|im_start\|>.*?\n)(.*?)(<\|im_end\|>)`)

// PromptTranslator 分块并行翻译提示词，任何失败都退回原文
type PromptTranslator struct {
	backend     Backend
	maxPart     int
	parallelism int
	metrics     *utils.RelayMetrics
	logger      *utils.Logger
}

// NewPromptTranslator 创建提示词翻译器
func NewPromptTranslator(backend Backend, maxPart, parallelism int) *PromptTranslator {
	if maxPart <= 0 {
		maxPart = DefaultMaxPart
	}
	if parallelism <= 0 {
		parallelism = 4
	}
	return &PromptTranslator{
		backend:     backend,
		maxPart:     maxPart,
		parallelism: parallelism,
		metrics:     utils.NewRelayMetrics(),
		logger:      utils.GetLogger(),
	}
}

// Translate 翻译整段提示词；ChatML 提示词逐块翻译并保持块边界
func (p *PromptTranslator) Translate(ctx context.Context, text, target string) string {
	lang, err := NormalizeLang(target)
	if err != nil {
		p.logger.Warn("translation skipped", map[string]interface{}{"error": err.Error()})
		return text
	}

	matches := chatmlBlock.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return p.translateText(ctx, text, lang)
	}

	blocks := make([]string, 0, len(matches)+1)
	for _, m := range matches {
		start, content, end := text[m[2]:m[3]], text[m[4]:m[5]], text[m[6]:m[7]]
		blocks = append(blocks, start+p.translateText(ctx, content, lang)+"\n"+end)
	}

	// 最后一块之后的内容（如 assistant 开头）原样保留
	tail := strings.TrimLeft(text[matches[len(matches)-1][1]:], "\n")
	if tail != "" {
		blocks = append(blocks, tail)
	}
	return strings.Join(blocks, "\n")
}

// translateText 切片后并行翻译，失败的片段保留原文
func (p *PromptTranslator) translateText(ctx context.Context, text, lang string) string {
	parts := SplitText(text, p.maxPart)
	if len(parts) == 0 {
		return strings.TrimSpace(text)
	}

	out := make([]string, len(parts))
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			translated, err := p.backend.Translate(ctx, part, lang)
			ok := err == nil && strings.TrimSpace(translated) != ""
			p.metrics.RecordTranslation(lang, ok)
			if !ok {
				p.logger.Warn("partial translation failed", map[string]interface{}{
					"target": lang,
					"error":  fmt.Sprint(err),
				})
				out[i] = part
				return nil
			}
			out[i] = translated
			return nil
		})
	}
	g.Wait()

	return strings.Join(out, "\n")
}
