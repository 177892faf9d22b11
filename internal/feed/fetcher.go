package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/config"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/mmcdole/gofeed"
)

const (
	defaultConcurrency = 4
	userAgent          = "news-digest-bot/1.0"
)

// Fetcher 并发抓取订阅源，结果按配置顺序合并
type Fetcher struct {
	httpClient  *http.Client
	concurrency int
}

// NewFetcher 创建抓取器，transport 为 nil 时使用默认传输
func NewFetcher(transport *http.Transport) *Fetcher {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if transport != nil {
		httpClient.Transport = transport
	}
	return &Fetcher{httpClient: httpClient, concurrency: defaultConcurrency}
}

// Fetch 抓取全部订阅源。单个源失败只记录日志并跳过；全部失败时返回错误。
func (f *Fetcher) Fetch(ctx context.Context, feeds []config.Feed) ([]article.RawRecord, error) {
	results := make([][]article.RawRecord, len(feeds))
	errs := make([]error, len(feeds))

	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup
	for i, fc := range feeds {
		wg.Add(1)
		go func(i int, fc config.Feed) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()
			results[i], errs[i] = f.fetchOne(ctx, fc)
		}(i, fc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("抓取已取消: %w", err)
	}

	var records []article.RawRecord
	failed := 0
	for i, fc := range feeds {
		if errs[i] != nil {
			failed++
			logger.Warnf("[Feed] 抓取失败 %s (%s): %v", fc.Name, fc.URL, errs[i])
			continue
		}
		logger.Debugf("[Feed] %s: %d 条", fc.Name, len(results[i]))
		records = append(records, results[i]...)
	}

	if len(feeds) > 0 && failed == len(feeds) {
		return nil, fmt.Errorf("全部 %d 个订阅源抓取失败", failed)
	}
	logger.Infof("[Feed] 抓取完成: %d 个源，失败 %d 个，共 %d 条", len(feeds), failed, len(records))
	return records, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, fc config.Feed) ([]article.RawRecord, error) {
	parser := gofeed.NewParser()
	parser.Client = f.httpClient
	parser.UserAgent = userAgent

	parsed, err := parser.ParseURLWithContext(fc.URL, ctx)
	if err != nil {
		return nil, err
	}

	source := fc.Name
	if source == "" {
		source = strings.TrimSpace(parsed.Title)
	}

	records := make([]article.RawRecord, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		record := recordFromItem(item, source)
		if record.URL == "" && record.Title == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// recordFromItem 正文优先取 content，其次 description
func recordFromItem(item *gofeed.Item, source string) article.RawRecord {
	record := article.RawRecord{
		URL:    strings.TrimSpace(item.Link),
		Title:  strings.TrimSpace(item.Title),
		Source: source,
	}

	switch {
	case item.PublishedParsed != nil:
		record.PublishedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		record.PublishedAt = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	if strings.TrimSpace(item.Content) != "" {
		record.Summary = item.Content
	} else {
		record.Summary = item.Description
	}
	return record
}

// snapshot 原始抓取快照的文件格式
type snapshot struct {
	Date          string              `json:"date"`
	Timestamp     string              `json:"timestamp"`
	TotalArticles int                 `json:"total_articles"`
	Articles      []article.RawRecord `json:"articles"`
	BySource      map[string]int      `json:"by_source"`
}

// WriteSnapshot 将抓取结果写入 dir/YYYY-MM-DD.json，返回文件路径
func WriteSnapshot(dir string, records []article.RawRecord, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建快照目录失败: %w", err)
	}

	snap := snapshot{
		Date:          now.Format("2006-01-02"),
		Timestamp:     now.Format(time.RFC3339),
		TotalArticles: len(records),
		Articles:      records,
		BySource:      make(map[string]int),
	}
	if snap.Articles == nil {
		snap.Articles = []article.RawRecord{}
	}
	for _, r := range records {
		snap.BySource[r.Source]++
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, snap.Date+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入快照失败: %w", err)
	}
	return path, nil
}
