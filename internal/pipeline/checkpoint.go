package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fachebot/news-digest-bot/internal/logger"
)

// checkpointer 将各阶段产出写为 JSON 文件，仅用于排查，写入失败不影响运行
type checkpointer struct {
	dir string
}

func newCheckpointer(root string, now time.Time) *checkpointer {
	return &checkpointer{dir: filepath.Join(root, now.UTC().Format("20060102_150405"))}
}

// write 为 nil 接收者时不做任何事
func (c *checkpointer) write(stage string, v any) {
	if c == nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		logger.Warnf("[Pipeline] 创建中间结果目录失败: %v", err)
		return
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Warnf("[Pipeline] 序列化中间结果 %s 失败: %v", stage, err)
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, stage+".json"), data, 0644); err != nil {
		logger.Warnf("[Pipeline] 写入中间结果 %s 失败: %v", stage, err)
	}
}
