package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/config"
	"github.com/fachebot/news-digest-bot/internal/feed"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/fachebot/news-digest-bot/internal/model"
	"github.com/fachebot/news-digest-bot/internal/scheduler"
	"github.com/fachebot/news-digest-bot/internal/svc"
)

var (
	configFile = flag.String("f", "etc/config.yaml", "the config file")
	mode       = flag.String("mode", "serve", "serve | once | fetch")
	inputFile  = flag.String("input", "", "raw article snapshot used instead of fetching feeds (once mode)")
	outputDir  = flag.String("out", "data/raw", "snapshot directory (fetch mode)")
	dryRun     = flag.Bool("dry-run", false, "print messages instead of delivering them and keep the index untouched")
)

// fileSource 以本地快照代替订阅源抓取
type fileSource struct {
	path string
}

func (s fileSource) Fetch(ctx context.Context, feeds []config.Feed) ([]article.RawRecord, error) {
	return article.LoadFile(s.path)
}

func main() {
	flag.Parse()

	// 读取配置文件
	c, err := config.LoadFromFile(*configFile)
	if err != nil {
		logger.Fatalf("读取配置文件失败, %s", err)
	}

	// 创建数据目录
	if _, err := os.Stat("data"); os.IsNotExist(err) {
		err := os.Mkdir("data", 0755)
		if err != nil {
			logger.Fatalf("创建数据目录失败, %s", err)
		}
	}

	// 创建服务上下文
	svcCtx := svc.NewServiceContext(c)
	defer svcCtx.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "fetch":
		runFetch(ctx, svcCtx)
	case "once":
		runOnce(ctx, svcCtx)
	case "serve":
		serve(ctx, svcCtx)
	default:
		logger.Fatalf("未知的运行模式: %s", *mode)
	}
}

func newScheduler(svcCtx *svc.ServiceContext) *scheduler.Scheduler {
	c := svcCtx.Config
	opts := scheduler.Options{
		Cron:          c.Schedule.Cron,
		Feeds:         c.Feeds,
		RetryTimes:    c.Schedule.RetryTimes,
		RetryInterval: time.Duration(c.Schedule.RetryInterval) * time.Second,
		RetentionDays: c.Dedup.RetentionDays,
	}

	var source interface {
		Fetch(ctx context.Context, feeds []config.Feed) ([]article.RawRecord, error)
	} = svcCtx.Fetcher
	if *inputFile != "" {
		source = fileSource{path: *inputFile}
		opts.RetryTimes = 1
	}
	return scheduler.NewScheduler(source, svcCtx.NewPipeline(*dryRun), svcCtx.RunModel, opts)
}

// runFetch 只抓取订阅源并写入原始快照
func runFetch(ctx context.Context, svcCtx *svc.ServiceContext) {
	records, err := svcCtx.Fetcher.Fetch(ctx, svcCtx.Config.Feeds)
	if err != nil {
		logger.Fatalf("[Feed] 抓取失败: %s", err)
	}
	path, err := feed.WriteSnapshot(*outputDir, records, time.Now().UTC())
	if err != nil {
		logger.Fatalf("[Feed] 写入快照失败: %s", err)
	}
	logger.Infof("[Feed] 已写入 %d 条到 %s", len(records), path)
}

// runOnce 立即执行一次完整流程
func runOnce(ctx context.Context, svcCtx *svc.ServiceContext) {
	pc, err := newScheduler(svcCtx).RunOnce(ctx, model.TriggerManual)
	if err != nil {
		logger.Fatalf("运行失败: %s", err)
	}

	if *dryRun {
		for i, chunk := range pc.Chunks {
			fmt.Printf("----- %d/%d (%d) -----\n%s\n", i+1, len(pc.Chunks), len([]rune(chunk)), chunk)
		}
		return
	}
	if !pc.Delivered() {
		logger.Errorf("部分消息未送达: %s", pc.Report)
		os.Exit(2)
	}
}

// serve 按 cron 定时运行，并热加载黑名单
func serve(ctx context.Context, svcCtx *svc.ServiceContext) {
	if err := svcCtx.Blacklist.Watch(ctx); err != nil {
		logger.Warnf("[Keyword] 无法监听黑名单文件: %s", err)
	}

	s := newScheduler(svcCtx)
	if err := s.Start(); err != nil {
		logger.Fatalf("[Scheduler] 启动调度器失败: %s", err)
	}

	// 等待程序退出
	<-ctx.Done()

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	s.Stop()
	logger.Infof("服务已停止")
}
