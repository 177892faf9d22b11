package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/logger"
)

// 分类器未提供摘要时，从原文摘要截取的最大长度
const fallbackSummaryRunes = 240

// Heading 首条消息的标题行
func Heading(title string, date time.Time) string {
	if title == "" {
		return ""
	}
	return fmt.Sprintf("📰 **%s** %s", title, date.Format("2006-01-02"))
}

// Assemble 按固定章节顺序分组，章节内保持分类器给出的顺序。
// 层级缺失或未知的文章不会并入任何章节，而是以 *DroppedError 返回并发出告警。
func Assemble(articles []article.Article) (*Document, []error) {
	doc := &Document{Sections: make([]Section, len(article.Tiers))}
	for i, tier := range article.Tiers {
		doc.Sections[i].Tier = tier
	}

	var dropped []error
	for _, a := range articles {
		section := doc.Section(a.Tier)
		if section == nil {
			err := &DroppedError{Article: a}
			logger.Signal(logger.SignalClassifierContractViolation, "[Digest] 文章已丢弃: %v", err)
			dropped = append(dropped, err)
			continue
		}
		section.Entries = append(section.Entries, entryFromArticle(a))
	}

	logger.Infof("[Digest] 组装完成: %s %d 条，%s %d 条，%s %d 条，丢弃 %d 条",
		article.TierMustKnow.Label(), len(doc.Sections[0].Entries),
		article.TierInteressant.Label(), len(doc.Sections[1].Entries),
		article.TierNiceToKnow.Label(), len(doc.Sections[2].Entries),
		len(dropped))
	return doc, dropped
}

func entryFromArticle(a article.Article) Entry {
	summary := a.Blurb
	if summary == "" {
		summary = clipAtWord(a.Summary, fallbackSummaryRunes)
	}
	return Entry{
		Headline: oneLine(a.Title),
		Summary:  strings.TrimSpace(summary),
		Link:     strings.TrimSpace(a.URL),
		Source:   oneLine(a.Source),
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clipAtWord 在词边界处截断并追加省略号
func clipAtWord(s string, n int) string {
	s = oneLine(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}
