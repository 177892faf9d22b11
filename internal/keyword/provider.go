package keyword

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// LoadTerms 读取黑名单文件，每行一个词，# 开头为注释
func LoadTerms(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var terms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return terms, nil
}

// Provider 持有当前生效的过滤器。配置了黑名单文件时可热加载。
type Provider struct {
	inline  []string
	file    string
	current atomic.Pointer[Filter]
}

// NewProvider 合并内联黑名单和文件黑名单
func NewProvider(inline []string, file string) (*Provider, error) {
	p := &Provider{inline: inline, file: file}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Filter 返回当前过滤器，每次运行开始时取一次
func (p *Provider) Filter() *Filter {
	return p.current.Load()
}

// Reload 重新读取黑名单文件
func (p *Provider) Reload() error {
	terms := append([]string(nil), p.inline...)
	if p.file != "" {
		fileTerms, err := LoadTerms(p.file)
		if err != nil {
			return fmt.Errorf("读取黑名单文件失败: %w", err)
		}
		terms = append(terms, fileTerms...)
	}

	f := New(terms)
	p.current.Store(f)
	logger.Infof("[Keyword] 黑名单已加载，共 %d 个词", f.Len())
	return nil
}

// Watch 监听黑名单文件变化并重新加载，直到 ctx 结束
func (p *Provider) Watch(ctx context.Context) error {
	if p.file == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// 监听所在目录，兼容编辑器先写临时文件再重命名的保存方式
	if err := watcher.Add(filepath.Dir(p.file)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		const debounceInterval = 500 * time.Millisecond
		var debounce <-chan time.Time
		target := filepath.Clean(p.file)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce = time.After(debounceInterval)
				}
			case <-debounce:
				debounce = nil
				if err := p.Reload(); err != nil {
					logger.Errorf("[Keyword] 黑名单重载失败，继续使用旧黑名单: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("[Keyword] 文件监听错误: %v", err)
			}
		}
	}()
	return nil
}
