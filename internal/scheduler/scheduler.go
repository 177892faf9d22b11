package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/config"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/fachebot/news-digest-bot/internal/model"
	"github.com/fachebot/news-digest-bot/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// ErrRunInProgress 上一次运行尚未结束
var ErrRunInProgress = errors.New("run in progress")

// fetcher 抓取订阅源（便于测试注入 mock）
type fetcher interface {
	Fetch(ctx context.Context, feeds []config.Feed) ([]article.RawRecord, error)
}

// runner 执行一次流水线
type runner interface {
	Run(ctx context.Context, records []article.RawRecord, now time.Time) (*pipeline.Context, error)
}

// runLedger 运行记录
type runLedger interface {
	Create(ctx context.Context, trigger model.Trigger, startedAt time.Time) (*model.Run, error)
	MarkCompleted(ctx context.Context, id int, stats model.RunStats) error
	MarkPartial(ctx context.Context, id int, stats model.RunStats, errorMsg string) error
	MarkFailed(ctx context.Context, id int, errorMsg string) error
	GetIncompleteRuns(ctx context.Context) ([]*model.Run, error)
	GetLatestSince(ctx context.Context, since time.Time) (*model.Run, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Options struct {
	Cron          string
	Feeds         []config.Feed
	RetryTimes    int           // 抓取最多尝试次数
	RetryInterval time.Duration // 抓取重试间隔
	RetentionDays int           // 运行记录保留天数
}

type Scheduler struct {
	cron     *cron.Cron
	fetcher  fetcher
	pipeline runner
	runModel runLedger
	opts     Options
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	runMu    sync.Mutex
	wg       sync.WaitGroup
}

// locUTC 调度与日期计算统一使用 UTC
var locUTC = time.UTC

func NewScheduler(fetcher fetcher, pipeline runner, runModel runLedger, opts Options) *Scheduler {
	if opts.RetryTimes <= 0 {
		opts.RetryTimes = 3
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(locUTC)),
		fetcher:  fetcher,
		pipeline: pipeline,
		runModel: runModel,
		opts:     opts,
		now:      time.Now,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	_, err := s.cron.AddFunc(s.opts.Cron, s.runScheduled)
	if err != nil {
		return fmt.Errorf("注册摘要任务失败: %w", err)
	}

	s.cron.Start()
	logger.Infof("[Scheduler] 调度器已启动，摘要任务: %s", s.opts.Cron)

	// 启动时处理中断的运行并补跑当日
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recover(s.context())
	}()

	return nil
}

// Stop 停止调度器，等待进行中的运行结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	logger.Infof("[Scheduler] 调度器已停止")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// runScheduled cron 触发
func (s *Scheduler) runScheduled() {
	ctx := s.context()
	select {
	case <-ctx.Done():
		logger.Infof("[Scheduler] 任务已取消，退出")
		return
	default:
	}

	if _, err := s.RunOnce(ctx, model.TriggerCron); err != nil {
		logger.Errorf("[Scheduler] 摘要任务失败: %v", err)
	}
}

// recover 中断的运行不会从中途恢复：标记为失败，再按需补跑当日
func (s *Scheduler) recover(ctx context.Context) {
	runs, err := s.runModel.GetIncompleteRuns(ctx)
	if err != nil {
		logger.Errorf("[Scheduler] 查询未完成运行失败: %v", err)
	}
	for _, run := range runs {
		logger.Warnf("[Scheduler] 运行 #%d (%s) 在进程退出时未完成，标记为失败", run.ID, run.StartedAt.Format(time.RFC3339))
		if err := s.runModel.MarkFailed(ctx, run.ID, "进程中断，运行未完成"); err != nil {
			logger.Errorf("[Scheduler] 标记运行 #%d 失败: %v", run.ID, err)
		}
	}

	slot, ok := s.missedSlot(ctx)
	if !ok {
		return
	}
	logger.Infof("[Scheduler] 当日 %s 的运行缺失，开始补跑", slot.Format("15:04"))
	if _, err := s.RunOnce(ctx, model.TriggerCatchUp); err != nil {
		logger.Errorf("[Scheduler] 补跑失败: %v", err)
	}
}

// missedSlot 返回今天已经过去、但没有成功或部分成功运行的最近一个调度时间
func (s *Scheduler) missedSlot(ctx context.Context) (time.Time, bool) {
	schedule, err := cron.ParseStandard(s.opts.Cron)
	if err != nil {
		logger.Errorf("[Scheduler] 解析 cron 表达式失败: %v", err)
		return time.Time{}, false
	}

	now := s.now().In(locUTC)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, locUTC)

	var slot time.Time
	for next := schedule.Next(todayStart.Add(-time.Second)); !next.After(now); next = schedule.Next(next) {
		slot = next
	}
	if slot.IsZero() {
		return time.Time{}, false
	}

	_, err = s.runModel.GetLatestSince(ctx, slot)
	if err == nil {
		return time.Time{}, false
	}
	if !model.IsNotFound(err) {
		logger.Errorf("[Scheduler] 查询运行记录失败: %v", err)
		return time.Time{}, false
	}
	return slot, true
}

// RunOnce 抓取并执行一次完整流水线，运行结果写入运行记录
func (s *Scheduler) RunOnce(ctx context.Context, trigger model.Trigger) (*pipeline.Context, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	startedAt := s.now().In(locUTC)
	run, err := s.runModel.Create(ctx, trigger, startedAt)
	if err != nil {
		return nil, fmt.Errorf("创建运行记录失败: %w", err)
	}
	logger.Infof("[Scheduler] 开始运行 #%d (%s)", run.ID, trigger)

	pc, err := s.execute(ctx, startedAt)
	if err != nil {
		logger.Errorf("[Scheduler] 运行 #%d 失败: %v", run.ID, err)
		_ = s.runModel.MarkFailed(context.WithoutCancel(ctx), run.ID, err.Error())
		return pc, err
	}

	stats := runStats(pc)
	if pc.Delivered() {
		err = s.runModel.MarkCompleted(ctx, run.ID, stats)
		logger.Infof("[Scheduler] 运行 #%d 完成", run.ID)
	} else {
		errorMsg := "部分消息未送达"
		if pc.Report.Err != nil {
			errorMsg = pc.Report.Err.Error()
		}
		err = s.runModel.MarkPartial(ctx, run.ID, stats, errorMsg)
		logger.Warnf("[Scheduler] 运行 #%d 部分投递: %s", run.ID, pc.Report)
	}
	if err != nil {
		logger.Errorf("[Scheduler] 更新运行 #%d 状态失败: %v", run.ID, err)
	}

	s.cleanupRuns(ctx, startedAt)
	return pc, nil
}

func (s *Scheduler) execute(ctx context.Context, now time.Time) (*pipeline.Context, error) {
	var records []article.RawRecord
	var err error
	for attempt := 1; attempt <= s.opts.RetryTimes; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("任务已取消")
		default:
		}
		records, err = s.fetcher.Fetch(ctx, s.opts.Feeds)
		if err == nil {
			break
		}
		logger.Warnf("[Scheduler] 抓取订阅源失败 (第 %d/%d 次): %v", attempt, s.opts.RetryTimes, err)
		if attempt < s.opts.RetryTimes {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("任务已取消")
			case <-time.After(s.opts.RetryInterval):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("抓取订阅源失败，已重试 %d 次: %w", s.opts.RetryTimes, err)
	}

	return s.pipeline.Run(ctx, records, now)
}

// cleanupRuns 清理过期运行记录
func (s *Scheduler) cleanupRuns(ctx context.Context, now time.Time) {
	if s.opts.RetentionDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -s.opts.RetentionDays)
	deleted, err := s.runModel.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.Errorf("[Scheduler] 清理运行记录失败: %v", err)
	} else if deleted > 0 {
		logger.Infof("[Scheduler] 已清理 %d 条运行记录", deleted)
	}
}

func runStats(pc *pipeline.Context) model.RunStats {
	stats := model.RunStats{
		InputCount:      len(pc.Raw),
		KeptCount:       len(pc.Dedup.Kept),
		FilteredCount:   len(pc.Filtered),
		ClassifiedCount: len(pc.Classified),
		ChunkCount:      len(pc.Chunks),
		Signals:         logger.FormatSignals(pc.Signals),
	}
	if pc.Report != nil {
		stats.Delivered = pc.Report.Succeeded
		stats.Failed = pc.Report.Failed
	}
	return stats
}
