package svc

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/fachebot/news-digest-bot/internal/config"
	"github.com/fachebot/news-digest-bot/internal/dedup"
	"github.com/fachebot/news-digest-bot/internal/feed"
	"github.com/fachebot/news-digest-bot/internal/keyword"
	"github.com/fachebot/news-digest-bot/internal/llm"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/fachebot/news-digest-bot/internal/model"
	"github.com/fachebot/news-digest-bot/internal/notify"
	"github.com/fachebot/news-digest-bot/internal/pipeline"

	"golang.org/x/net/proxy"
)

const dataSourceName = "file:data/sqlite.db?mode=rwc&_journal_mode=WAL&_busy_timeout=5000"

type ServiceContext struct {
	Config         *config.Config
	DB             *sql.DB
	TransportProxy *http.Transport
	RunModel       *model.RunModel
	IndexStore     *dedup.Store
	Blacklist      *keyword.Provider
	LLMClient      *llm.Client
	Fetcher        *feed.Fetcher
	Notifier       *notify.Notifier
}

func NewServiceContext(c *config.Config) *ServiceContext {
	// 创建数据库连接
	db, err := model.Open(context.Background(), dataSourceName)
	if err != nil {
		logger.Fatalf("打开数据库失败, %v", err)
	}

	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			logger.Fatalf("创建SOCKS5代理失败, %v", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	// 加载黑名单
	blacklist, err := keyword.NewProvider(c.Blacklist.Terms, c.Blacklist.File)
	if err != nil {
		logger.Fatalf("加载黑名单失败, %v", err)
	}

	webhook := notify.NewWebhookClient(c.Delivery.WebhookURL, c.Delivery.Username, transportProxy)

	svcCtx := &ServiceContext{
		Config:         c,
		DB:             db,
		TransportProxy: transportProxy,
		RunModel:       model.NewRunModel(db),
		IndexStore:     dedup.NewStore(c.Dedup.StateDir, c.Dedup.WindowDays),
		Blacklist:      blacklist,
		LLMClient:      llm.NewClient(&c.LLM, transportProxy),
		Fetcher:        feed.NewFetcher(transportProxy),
		Notifier:       notify.NewNotifier(webhook, &c.Delivery),
	}
	return svcCtx
}

// NewPipeline 按配置组装流水线
func (svcCtx *ServiceContext) NewPipeline(dryRun bool) *pipeline.Pipeline {
	c := svcCtx.Config
	return pipeline.New(
		svcCtx.IndexStore,
		svcCtx.Blacklist,
		svcCtx.LLMClient,
		svcCtx.Notifier,
		pipeline.Options{
			Title:         c.Digest.Title,
			MessageLimit:  c.Digest.MessageLimit,
			RetentionDays: c.Dedup.RetentionDays,
			CheckpointDir: c.Digest.CheckpointDir,
			DryRun:        dryRun,
		},
	)
}

func (svcCtx *ServiceContext) Close() {
	if err := svcCtx.DB.Close(); err != nil {
		logger.Errorf("关闭数据库失败, %v", err)
	}
}
