package article

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// RawRecord 抓取阶段产出的原始条目
type RawRecord struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	PublishedAt string `json:"publishedAt,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

// 历史快照中使用的字段别名，按优先级排列
var fieldAliases = map[string][]string{
	"url":         {"url", "link"},
	"title":       {"title"},
	"source":      {"source"},
	"publishedAt": {"publishedAt", "published"},
	"summary":     {"summary", "content", "description"},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadFile 从文件读取原始批次
func LoadFile(path string) ([]RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputMalformed, err)
	}
	defer f.Close()
	return ReadBatch(f)
}

// ReadBatch 解析原始批次。顶层为条目数组，也兼容 {"articles": [...]} 形式的历史快照。
// 任何一条记录不合法都会使整个批次失败，不产生部分结果。
func ReadBatch(r io.Reader) ([]RawRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputMalformed, err)
	}
	data = bytes.TrimSpace(data)

	var elements []json.RawMessage
	if len(data) > 0 && data[0] == '{' {
		var wrapper struct {
			Articles []json.RawMessage `json:"articles"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Articles == nil {
			return nil, fmt.Errorf("%w: 顶层必须是条目数组", ErrInputMalformed)
		}
		elements = wrapper.Articles
	} else if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputMalformed, err)
	}

	records := make([]RawRecord, 0, len(elements))
	for i, elem := range elements {
		rec, err := decodeRecord(elem)
		if err != nil {
			return nil, fmt.Errorf("%w: 第 %d 条记录: %v", ErrInputMalformed, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(elem json.RawMessage) (RawRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return RawRecord{}, fmt.Errorf("不是 JSON 对象")
	}

	values := make(map[string]string, len(fieldAliases))
	present := make(map[string]bool, len(fieldAliases))
	for canonical, aliases := range fieldAliases {
		for _, alias := range aliases {
			v, ok := fields[alias]
			if !ok || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return RawRecord{}, fmt.Errorf("字段 %s 必须是字符串", alias)
			}
			values[canonical] = s
			present[canonical] = true
			break
		}
	}

	if !present["url"] && !present["title"] {
		return RawRecord{}, fmt.Errorf("缺少 url 和 title")
	}
	if published := strings.TrimSpace(values["publishedAt"]); published != "" {
		if _, err := parseTime(published); err != nil {
			return RawRecord{}, fmt.Errorf("无法解析 publishedAt: %q", published)
		}
	}

	return RawRecord{
		URL:         values["url"],
		Title:       values["title"],
		Source:      values["source"],
		PublishedAt: values["publishedAt"],
		Summary:     values["summary"],
	}, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown time format")
}

// StripHTML 去掉 HTML 标签并合并空白
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	doc.Find("script, style").Remove()
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize 将原始条目转换为规范化文章。指纹无法生成时 ID 为空，
// 由去重阶段丢弃并发出告警。
func Normalize(raw RawRecord) Article {
	a := Article{
		URL:     strings.TrimSpace(raw.URL),
		Title:   StripHTML(raw.Title),
		Source:  collapseSpace(raw.Source),
		Summary: StripHTML(raw.Summary),
	}
	if published := strings.TrimSpace(raw.PublishedAt); published != "" {
		a.PublishedAt, _ = parseTime(published)
	}
	a.ID, _ = Fingerprint(a.URL, a.Title, a.Source)
	return a
}

// NormalizeAll 按输入顺序规范化整个批次
func NormalizeAll(records []RawRecord) []Article {
	articles := make([]Article, len(records))
	for i, raw := range records {
		articles[i] = Normalize(raw)
	}
	return articles
}
