package pipeline

import (
	"fmt"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/dedup"
	"github.com/fachebot/news-digest-bot/internal/digest"
	"github.com/fachebot/news-digest-bot/internal/keyword"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/fachebot/news-digest-bot/internal/notify"
)

// Context 一次运行中各阶段的产出，按阶段顺序依次填充
type Context struct {
	RunAt       time.Time
	Raw         []article.RawRecord
	Normalized  []article.Article
	Dedup       dedup.Result
	Filtered    []article.Article
	FilterStats keyword.Stats
	Classified  []article.Article
	Dropped     []error // 层级无效被丢弃，*digest.DroppedError
	Document    *digest.Document
	Chunks      []string
	Truncated   []error // 超长被截断的条目，包装 digest.ErrChunkOverflow
	Report      *notify.Report // 未投递时为 nil
	IndexPath   string         // 未保存时为空
	Signals     map[string]int // 本次运行产生的告警
}

// Delivered 所有消息都已送达，没有消息时也视为送达
func (c *Context) Delivered() bool {
	return c.Report == nil || c.Report.Complete()
}

func (c *Context) Summary() string {
	entries := 0
	if c.Document != nil {
		entries = c.Document.Len()
	}
	return fmt.Sprintf("原始 %d 条，去重后 %d 条，过滤后 %d 条，入选 %d 条，收录 %d 条，消息 %d 条，告警: %s",
		len(c.Raw), len(c.Dedup.Kept), len(c.Filtered), len(c.Classified), entries, len(c.Chunks),
		logger.FormatSignals(c.Signals))
}
