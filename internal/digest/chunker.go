package digest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fachebot/news-digest-bot/internal/logger"
)

const (
	// DefaultLimit Discord 单条消息的字符上限
	DefaultLimit = 2000

	// TruncationMarker 超长条目被截断时追加的标记
	TruncationMarker = " … [gekürzt]"
)

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// units 将章节标题与其第一个条目合并为一个单位，合并后超出上限时保持分离
func units(doc *Document, limit int) []unit {
	bs := blocks(doc)
	out := make([]unit, 0, len(bs))
	for i := 0; i < len(bs); i++ {
		u := bs[i]
		if strings.HasPrefix(u.text, "# ") && i+1 < len(bs) {
			next := bs[i+1]
			glued := u.text + next.sep + next.text
			if runeLen(glued) <= limit {
				out = append(out, unit{sep: u.sep, text: glued})
				i++
				continue
			}
		}
		out = append(out, u)
	}
	return out
}

// truncate 截断超长单位并追加标记，结果不超过 limit
func truncate(text string, limit int) string {
	keep := limit - runeLen(TruncationMarker)
	if keep <= 0 {
		return string([]rune(text)[:limit])
	}
	r := []rune(text)
	return strings.TrimRight(string(r[:keep]), " \n") + TruncationMarker
}

// Chunk 将文档切分为不超过 limit 个字符的消息。
// 条目不会跨消息拆分，章节标题尽量与其第一个条目在同一条消息中；
// 单个条目超过上限时截断并发出告警，每次截断对应一个包装 ErrChunkOverflow 的错误。
func Chunk(doc *Document, limit int) ([]string, []error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		chunks    []string
		truncated []error
		acc       strings.Builder
		accLen int
	)
	flush := func() {
		if accLen > 0 {
			chunks = append(chunks, acc.String())
		}
		acc.Reset()
		accLen = 0
	}

	for _, u := range units(doc, limit) {
		text := u.text
		if n := runeLen(text); n > limit {
			err := fmt.Errorf("%w: 条目长度 %d 超过上限 %d，已截断", ErrChunkOverflow, n, limit)
			logger.Signal(logger.SignalChunkOverflow, "[Digest] %v", err)
			truncated = append(truncated, err)
			text = truncate(text, limit)
		}
		n := runeLen(text)

		if accLen > 0 {
			if accLen+runeLen(u.sep)+n <= limit {
				acc.WriteString(u.sep)
				acc.WriteString(text)
				accLen += runeLen(u.sep) + n
				continue
			}
			flush()
		}

		// 新消息以分隔行开头时保留该行，放不下则省略
		if u.sep == sepSection {
			lead := ZeroWidthSpace + "\n"
			if runeLen(lead)+n <= limit {
				text = lead + text
				n += runeLen(lead)
			}
		}
		acc.WriteString(text)
		accLen = n
	}
	flush()

	logger.Infof("[Digest] 分块完成: %d 条消息", len(chunks))
	return chunks, truncated
}
