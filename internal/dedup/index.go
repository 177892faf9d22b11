package dedup

import (
	"time"
)

const DefaultWindowDays = 7

// Index 指纹 → 首次出现时间，只覆盖最近 W 天
type Index struct {
	window time.Duration
	seen   map[string]time.Time
}

func NewIndex(windowDays int) *Index {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Index{
		window: time.Duration(windowDays) * 24 * time.Hour,
		seen:   make(map[string]time.Time),
	}
}

// Cutoff 早于该时间的条目视为过期
func (idx *Index) Cutoff(now time.Time) time.Time {
	return now.Add(-idx.window)
}

// Evict 删除首次出现时间早于 now-W 的条目，返回删除数量
func (idx *Index) Evict(now time.Time) int {
	cutoff := idx.Cutoff(now)
	evicted := 0
	for fp, firstSeen := range idx.seen {
		if firstSeen.Before(cutoff) {
			delete(idx.seen, fp)
			evicted++
		}
	}
	return evicted
}

func (idx *Index) Contains(fp string) bool {
	_, ok := idx.seen[fp]
	return ok
}

// Insert 记录指纹。已存在时保留更早的首次出现时间。
func (idx *Index) Insert(fp string, firstSeen time.Time) {
	if existing, ok := idx.seen[fp]; ok && !firstSeen.Before(existing) {
		return
	}
	idx.seen[fp] = firstSeen
}

func (idx *Index) Len() int {
	return len(idx.seen)
}

// Snapshot 返回索引内容的副本
func (idx *Index) Snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(idx.seen))
	for fp, t := range idx.seen {
		out[fp] = t
	}
	return out
}
