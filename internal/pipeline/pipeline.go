package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/dedup"
	"github.com/fachebot/news-digest-bot/internal/digest"
	"github.com/fachebot/news-digest-bot/internal/keyword"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/fachebot/news-digest-bot/internal/notify"
)

// indexStore 指纹索引的持久化（便于测试注入 mock）
type indexStore interface {
	Load(now time.Time) (*dedup.Index, error)
	Save(idx *dedup.Index, now time.Time) (string, error)
	Cleanup(retentionDays int, now time.Time) (int, error)
}

// filterSource 提供当前生效的黑名单过滤器
type filterSource interface {
	Filter() *keyword.Filter
}

// classifier 外部分类器
type classifier interface {
	Classify(ctx context.Context, articles []article.Article) ([]article.Article, error)
}

// deliverer 按顺序投递消息
type deliverer interface {
	Deliver(ctx context.Context, chunks []string) *notify.Report
}

type Options struct {
	Title         string // 首条消息标题，为空不输出
	MessageLimit  int
	RetentionDays int    // 指纹快照保留天数，0 表示不清理
	CheckpointDir string // 为空不输出中间结果
	DryRun        bool   // 不投递，不保存索引
}

type Pipeline struct {
	store      indexStore
	filters    filterSource
	classifier classifier
	deliverer  deliverer
	opts       Options
}

func New(store indexStore, filters filterSource, classifier classifier, deliverer deliverer, opts Options) *Pipeline {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = digest.DefaultLimit
	}
	return &Pipeline{
		store:      store,
		filters:    filters,
		classifier: classifier,
		deliverer:  deliverer,
		opts:       opts,
	}
}

// Run 对一批原始条目执行完整流程：去重、过滤、分类、组装、分块、投递，最后保存索引。
// 读取索引、分类失败或消息全部未送达时返回错误且不写入索引；
// 部分送达不视为失败，结果记录在 Context.Report 中。
func (p *Pipeline) Run(ctx context.Context, records []article.RawRecord, now time.Time) (*Context, error) {
	base := logger.Signals()
	pc := &Context{RunAt: now, Raw: records}
	defer func() { pc.Signals = logger.SignalsSince(base) }()

	var cp *checkpointer
	if p.opts.CheckpointDir != "" {
		cp = newCheckpointer(p.opts.CheckpointDir, now)
	}
	cp.write("01_raw", records)

	logger.Infof("[Pipeline] 开始运行，原始条目 %d 条", len(records))

	// 1. 读取窗口内的指纹，淘汰过期条目后去重
	idx, err := p.store.Load(now)
	if err != nil {
		return pc, fmt.Errorf("读取指纹索引失败: %w", err)
	}
	pc.Normalized = article.NormalizeAll(records)
	pc.Dedup = dedup.Dedupe(pc.Normalized, idx, now)
	cp.write("02_deduped", pc.Dedup.Kept)

	// 2. 黑名单过滤
	pc.Filtered, pc.FilterStats = p.filters.Filter().Apply(pc.Dedup.Kept)
	cp.write("03_filtered", pc.Filtered)
	if pc.FilterStats.Blocked > 0 {
		logger.Infof("[Pipeline] 黑名单过滤 %d 篇，主要命中: %v", pc.FilterStats.Blocked, pc.FilterStats.TopReasons(5))
	}

	if err := ctx.Err(); err != nil {
		return pc, fmt.Errorf("任务已取消: %w", err)
	}

	// 3. 分类
	if len(pc.Filtered) > 0 {
		pc.Classified, err = p.classifier.Classify(ctx, pc.Filtered)
		if err != nil {
			return pc, fmt.Errorf("分类失败: %w", err)
		}
	}
	cp.write("04_classified", pc.Classified)

	// 4. 组装与分块
	pc.Document, pc.Dropped = digest.Assemble(pc.Classified)
	if pc.Document.Len() > 0 {
		pc.Document.Title = digest.Heading(p.opts.Title, now)
	}
	pc.Chunks, pc.Truncated = digest.Chunk(pc.Document, p.opts.MessageLimit)
	cp.write("05_chunks", pc.Chunks)

	if p.opts.DryRun {
		for i, chunk := range pc.Chunks {
			logger.Debugf("[Pipeline] 消息 %d/%d (%d 字符):\n%s", i+1, len(pc.Chunks), len([]rune(chunk)), chunk)
		}
		logger.Infof("[Pipeline] 试运行完成，生成 %d 条消息，未投递，未保存索引", len(pc.Chunks))
		return pc, nil
	}

	// 5. 投递。一条都未送达时不保存索引，下次运行重新投递这些文章
	if len(pc.Chunks) > 0 {
		pc.Report = p.deliverer.Deliver(ctx, pc.Chunks)
		if len(pc.Report.Succeeded) == 0 {
			cause := pc.Report.Err
			if cause == nil {
				cause = notify.ErrDeliveryFailure
			}
			return pc, fmt.Errorf("消息全部未送达，未保存索引: %w", cause)
		}
		if !pc.Report.Complete() {
			logger.Errorf("[Pipeline] 部分投递: %s", pc.Report)
		}
	} else {
		logger.Infof("[Pipeline] 没有需要投递的内容")
	}

	// 6. 保存索引并清理过期快照
	pc.IndexPath, err = p.store.Save(idx, now)
	if err != nil {
		return pc, fmt.Errorf("保存指纹索引失败: %w", err)
	}
	if p.opts.RetentionDays > 0 {
		if _, err := p.store.Cleanup(p.opts.RetentionDays, now); err != nil {
			logger.Warnf("[Pipeline] 清理过期快照失败: %v", err)
		}
	}

	pc.Signals = logger.SignalsSince(base)
	logger.Infof("[Pipeline] 运行结束: %s", pc.Summary())
	return pc, nil
}
