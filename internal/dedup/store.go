package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fachebot/news-digest-bot/internal/logger"
)

const (
	filePrefix = "index_"
	fileSuffix = ".json"
	fileLayout = "20060102_150405"
)

// Store 每次运行持久化一份指纹快照（指纹 → 首次出现时间 ISO-8601）
type Store struct {
	dir        string
	windowDays int
}

func NewStore(dir string, windowDays int) *Store {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Store{dir: dir, windowDays: windowDays}
}

type snapshotFile struct {
	path  string
	runAt time.Time
}

// listSnapshots 按运行时间升序返回快照文件，忽略命名不符合约定的文件
func (s *Store) listSnapshots() ([]snapshotFile, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	files := make([]snapshotFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		runAt, err := time.ParseInLocation(fileLayout, stamp, time.UTC)
		if err != nil {
			continue
		}
		files = append(files, snapshotFile{path: filepath.Join(s.dir, name), runAt: runAt})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].runAt.Before(files[j].runAt) })
	return files, nil
}

// Load 读取最近 W 天内的快照并合并（保留最早的首次出现时间），随后淘汰过期条目
func (s *Store) Load(now time.Time) (*Index, error) {
	idx := NewIndex(s.windowDays)

	files, err := s.listSnapshots()
	if err != nil {
		return nil, fmt.Errorf("列出指纹快照失败: %w", err)
	}

	cutoff := idx.Cutoff(now)
	loaded := 0
	for _, f := range files {
		if f.runAt.Before(cutoff) {
			continue
		}
		entries, err := readSnapshot(f.path)
		if err != nil {
			return nil, fmt.Errorf("读取指纹快照 %s 失败: %w", filepath.Base(f.path), err)
		}
		for fp, firstSeen := range entries {
			idx.Insert(fp, firstSeen)
		}
		loaded++
	}

	evicted := idx.Evict(now)
	logger.Infof("[Dedup] 已加载 %d 个快照，索引 %d 个指纹，淘汰 %d 个", loaded, idx.Len(), evicted)
	return idx, nil
}

func readSnapshot(path string) (map[string]time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	entries := make(map[string]time.Time, len(raw))
	for fp, stamp := range raw {
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return nil, fmt.Errorf("指纹 %q 的时间无效: %w", fp, err)
		}
		entries[fp] = t
	}
	return entries, nil
}

// Save 将索引写入本次运行的快照文件，先写临时文件再重命名
func (s *Store) Save(idx *Index, now time.Time) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("创建索引目录失败: %w", err)
	}

	raw := make(map[string]string, idx.Len())
	for fp, t := range idx.Snapshot() {
		raw[fp] = t.UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filePrefix+now.UTC().Format(fileLayout)+fileSuffix)
	tmp, err := os.CreateTemp(s.dir, ".index-*.tmp")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("写入指纹快照失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("保存指纹快照失败: %w", err)
	}

	logger.Infof("[Dedup] 已保存指纹快照 %s (%d 个指纹)", filepath.Base(path), idx.Len())
	return path, nil
}

// Cleanup 删除运行时间早于保留期的快照文件
func (s *Store) Cleanup(retentionDays int, now time.Time) (int, error) {
	files, err := s.listSnapshots()
	if err != nil {
		return 0, err
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, f := range files {
		if !f.runAt.Before(cutoff) {
			break
		}
		if err := os.Remove(f.path); err != nil {
			return deleted, fmt.Errorf("删除快照 %s 失败: %w", filepath.Base(f.path), err)
		}
		deleted++
	}
	if deleted > 0 {
		logger.Infof("[Dedup] 已清理 %d 个过期快照", deleted)
	}
	return deleted, nil
}
