package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type LLM struct {
	BaseURL   string `yaml:"BaseURL"` // 兼容 OpenAI API 的端点
	APIKey    string `yaml:"APIKey"`
	Model     string `yaml:"Model"`     // 如 gpt-4o, deepseek-chat, qwen-plus
	MaxTokens int    `yaml:"MaxTokens"` // 模型上下文窗口大小
}

type Feed struct {
	Name     string `yaml:"Name"`
	URL      string `yaml:"URL"`
	Category string `yaml:"Category"`
}

type Blacklist struct {
	Terms []string `yaml:"Terms"` // 内联黑名单词
	File  string   `yaml:"File"`  // 黑名单文件，每行一个词，支持热加载
}

type Dedup struct {
	WindowDays    int    `yaml:"WindowDays"`    // 去重回溯窗口（天），默认 7
	StateDir      string `yaml:"StateDir"`      // 指纹索引快照目录
	RetentionDays int    `yaml:"RetentionDays"` // 快照文件保留天数，默认 30
}

type Digest struct {
	Title         string `yaml:"Title"`         // 首条消息标题，为空则不输出
	MessageLimit  int    `yaml:"MessageLimit"`  // 单条消息最大字符数，默认 2000
	CheckpointDir string `yaml:"CheckpointDir"` // 各阶段中间结果输出目录，为空则不输出
}

type Delivery struct {
	WebhookURL    string `yaml:"WebhookURL"`
	Username      string `yaml:"Username"`
	PaceMillis    int    `yaml:"PaceMillis"`    // 两次发送之间的最小间隔（毫秒），默认 1000
	RetryTimes    int    `yaml:"RetryTimes"`    // 单条消息最多尝试次数，默认 3
	RetryInterval int    `yaml:"RetryInterval"` // 首次重试间隔（秒），之后指数退避，默认 2
}

type Schedule struct {
	Cron          string `yaml:"Cron"`          // cron 表达式（UTC），默认 "0 6 * * *"
	RetryTimes    int    `yaml:"RetryTimes"`    // 抓取订阅源最多尝试次数，默认 3
	RetryInterval int    `yaml:"RetryInterval"` // 抓取重试间隔（秒），默认 60
}

type Config struct {
	Sock5Proxy Sock5Proxy `yaml:"Sock5Proxy"`
	LLM        LLM        `yaml:"LLM"`
	Feeds      []Feed     `yaml:"Feeds"`
	Blacklist  Blacklist  `yaml:"Blacklist"`
	Dedup      Dedup      `yaml:"Dedup"`
	Digest     Digest     `yaml:"Digest"`
	Delivery   Delivery   `yaml:"Delivery"`
	Schedule   Schedule   `yaml:"Schedule"`
}

func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 YAML 配置，合并环境变量并填充默认值
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	mergeWithEnv(&c)
	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Dedup.WindowDays == 0 {
		c.Dedup.WindowDays = 7
	}
	if c.Dedup.StateDir == "" {
		c.Dedup.StateDir = "data/index"
	}
	if c.Dedup.RetentionDays == 0 {
		c.Dedup.RetentionDays = 30
	}
	if c.Digest.MessageLimit == 0 {
		c.Digest.MessageLimit = 2000
	}
	if c.Delivery.Username == "" {
		c.Delivery.Username = "News Digest Bot"
	}
	if c.Delivery.PaceMillis == 0 {
		c.Delivery.PaceMillis = 1000
	}
	if c.Delivery.RetryTimes == 0 {
		c.Delivery.RetryTimes = 3
	}
	if c.Delivery.RetryInterval == 0 {
		c.Delivery.RetryInterval = 2
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 16000
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 6 * * *"
	}
	if c.Schedule.RetryTimes == 0 {
		c.Schedule.RetryTimes = 3
	}
	if c.Schedule.RetryInterval == 0 {
		c.Schedule.RetryInterval = 60
	}
}

func mergeWithEnv(c *Config) {
	if webhook := os.Getenv("DISCORD_WEBHOOK_URL"); webhook != "" {
		c.Delivery.WebhookURL = webhook
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证 LLM
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM.APIKey 不能为空")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM.BaseURL 不能为空")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM.Model 不能为空")
	}
	if c.LLM.MaxTokens <= 2000 {
		return fmt.Errorf("LLM.MaxTokens 必须大于 2000")
	}

	// 验证 Feeds
	for i, f := range c.Feeds {
		if f.Name == "" {
			return fmt.Errorf("Feeds[%d].Name 不能为空", i)
		}
		if u, err := url.Parse(f.URL); err != nil || u.Host == "" {
			return fmt.Errorf("Feeds[%d].URL 无效: %q", i, f.URL)
		}
	}

	// 验证 Dedup
	if c.Dedup.WindowDays < 1 {
		return fmt.Errorf("Dedup.WindowDays 必须 >= 1")
	}
	if c.Dedup.RetentionDays < c.Dedup.WindowDays {
		return fmt.Errorf("Dedup.RetentionDays 不能小于 Dedup.WindowDays")
	}

	// 验证 Digest
	if c.Digest.MessageLimit < 100 || c.Digest.MessageLimit > 2000 {
		return fmt.Errorf("Digest.MessageLimit 必须在 100 到 2000 之间")
	}

	// 验证 Delivery
	if c.Delivery.WebhookURL == "" {
		return fmt.Errorf("Delivery.WebhookURL 不能为空")
	}
	if u, err := url.Parse(c.Delivery.WebhookURL); err != nil || u.Host == "" {
		return fmt.Errorf("Delivery.WebhookURL 无效")
	}
	if c.Delivery.PaceMillis < 0 {
		return fmt.Errorf("Delivery.PaceMillis 必须 >= 0")
	}
	if c.Delivery.RetryTimes < 0 {
		return fmt.Errorf("Delivery.RetryTimes 必须 >= 0")
	}
	if c.Delivery.RetryInterval < 0 {
		return fmt.Errorf("Delivery.RetryInterval 必须 >= 0")
	}

	// 验证 Schedule
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("Schedule.Cron 无效: %w", err)
	}
	if c.Schedule.RetryTimes < 0 || c.Schedule.RetryInterval < 0 {
		return fmt.Errorf("Schedule.RetryTimes 和 Schedule.RetryInterval 必须 >= 0")
	}

	return nil
}
