package dedup

import (
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/logger"
)

// Result 一次去重的结果
type Result struct {
	Kept       []article.Article
	Duplicates []article.Article // 窗口内已出现，或同批次中靠后的重复
	Ambiguous  []article.Article // 无法生成指纹
	Evicted    int
}

// Dedupe 先淘汰过期条目，再按输入顺序筛选未出现过的文章，并将保留的文章写入索引。
// 同一批次内指纹相同的文章只保留第一篇。
func Dedupe(batch []article.Article, idx *Index, now time.Time) Result {
	result := Result{
		Kept:    make([]article.Article, 0, len(batch)),
		Evicted: idx.Evict(now),
	}

	for _, a := range batch {
		fp := a.ID
		if fp == "" {
			var err error
			fp, err = article.Fingerprint(a.URL, a.Title, a.Source)
			if err != nil {
				logger.Signal(logger.SignalFingerprintAmbiguous, "[Dedup] 无法生成指纹，丢弃文章: title=%q source=%q url=%q", a.Title, a.Source, a.URL)
				result.Ambiguous = append(result.Ambiguous, a)
				continue
			}
			a.ID = fp
		}

		if idx.Contains(fp) {
			result.Duplicates = append(result.Duplicates, a)
			continue
		}
		idx.Insert(fp, now)
		result.Kept = append(result.Kept, a)
	}

	logger.Infof("[Dedup] 输入 %d 篇，保留 %d 篇，重复 %d 篇，无法识别 %d 篇，淘汰过期指纹 %d 个",
		len(batch), len(result.Kept), len(result.Duplicates), len(result.Ambiguous), result.Evicted)
	return result
}
