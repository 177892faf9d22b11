package digest

import (
	"errors"
	"fmt"

	"github.com/fachebot/news-digest-bot/internal/article"
)

var (
	// ErrClassifierContractViolation 分类器返回了缺失或未知的层级
	ErrClassifierContractViolation = errors.New("classifier contract violation")
	// ErrChunkOverflow 单个条目本身超过消息长度上限
	ErrChunkOverflow = errors.New("chunk overflow")
)

// DroppedError 因层级无效而未收录的文章
type DroppedError struct {
	Article article.Article
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("%v: 层级 %q: %s", ErrClassifierContractViolation, e.Article.Tier, e.Article.Title)
}

func (e *DroppedError) Unwrap() error {
	return ErrClassifierContractViolation
}

// Entry 渲染前的单条文章
type Entry struct {
	Headline string
	Summary  string // 可为空
	Link     string // 可为空
	Source   string
}

// Section 一个层级下按重要性排列的条目
type Section struct {
	Tier    article.Tier
	Entries []Entry
}

// Document 按固定顺序排列的三个章节，Title 为空时不输出标题行
type Document struct {
	Title    string
	Sections []Section
}

// Len 条目总数
func (d *Document) Len() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Entries)
	}
	return n
}

// Section 返回指定层级的章节
func (d *Document) Section(tier article.Tier) *Section {
	for i := range d.Sections {
		if d.Sections[i].Tier == tier {
			return &d.Sections[i]
		}
	}
	return nil
}
