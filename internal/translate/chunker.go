// internal/translate/chunker.go
package translate

import (
	"strings"

	"github.com/rivo/uniseg"
)

// DefaultMaxPart 单次翻译请求的最大字符数
const DefaultMaxPart = 1000

var delimiters = []string{". ", "\n", "!", "?", ";"}

// prefixLimit 返回不超过 maxRunes 个字符、且落在字素边界上的字节偏移
func prefixLimit(text string, maxRunes int) int {
	limit, runes := 0, 0
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		n := len(g.Runes())
		if runes+n > maxRunes {
			break
		}
		runes += n
		_, limit = g.Positions()
	}
	return limit
}

// SplitText 把长文本按句子类边界切成不超过 maxRunes 字符的片段
//
// 在前 maxRunes 个字符内寻找最靠后的分隔符并在其后切开；找不到时在字素边界处硬切。
func SplitText(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxPart
	}

	var parts []string
	text = strings.TrimSpace(text)
	for len([]rune(text)) > maxRunes {
		limit := prefixLimit(text, maxRunes)
		if limit == 0 {
			// 单个字素就超过上限
			g := uniseg.NewGraphemes(text)
			g.Next()
			_, limit = g.Positions()
		}

		cut := -1
		for _, d := range delimiters {
			if idx := strings.LastIndex(text[:limit], d); idx > 0 && idx+len(d) > cut {
				cut = idx + len(d)
			}
		}
		if cut <= 0 || cut > limit {
			cut = limit
		}

		if part := strings.TrimSpace(text[:cut]); part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
