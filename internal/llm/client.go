package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/config"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"github.com/sashabaranov/go-openai"
)

// openAIClientInterface 定义 OpenAI 客户端接口，便于测试
type openAIClientInterface interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	config         *config.LLM
	openaiClient   openAIClientInterface
	maxInputTokens int
}

// NewClient 创建分类客户端，transport 为 nil 时使用默认传输
func NewClient(cfg *config.LLM, transport *http.Transport) *Client {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	if transport != nil {
		openaiConfig.HTTPClient = &http.Client{Transport: transport}
	}

	return &Client{
		config:         cfg,
		openaiClient:   openai.NewClientWithConfig(openaiConfig),
		maxInputTokens: cfg.MaxTokens - 2000, // 预留 2000 tokens 给 system prompt 和输出
	}
}

// estimateTokens 估算文本的 token 数量
func estimateTokens(text string) int {
	// 德语/英语按词数 * 1.3 估算，并以字符数的 1/4 作为下限
	tokens := int(float64(len(strings.Fields(text))) * 1.3)
	if tokens < len(text)/4 {
		tokens = len(text) / 4
	}
	return tokens
}

const maxSummaryRunes = 500

// classifyResponse 用于解析 LLM 返回的 JSON
type classifyResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Tier    string `json:"tier"`
		Summary string `json:"summary"`
	} `json:"items"`
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// articleToPromptLine 每篇文章一段，以批内编号作为 id
func articleToPromptLine(ref string, a article.Article) string {
	published := "unbekannt"
	if !a.PublishedAt.IsZero() {
		published = a.PublishedAt.Format("2006-01-02")
	}
	return fmt.Sprintf("[%s] %s\nQuelle: %s | %s\nInhalt: %s\n", ref, a.Title, a.Source, published, clip(a.Summary, maxSummaryRunes))
}

// splitArticlesIntoBatches 将文章按 token 估算拆分为多个批次
func splitArticlesIntoBatches(articles []article.Article, maxTokensPerBatch int) [][]article.Article {
	if len(articles) == 0 {
		return nil
	}
	batches := make([][]article.Article, 0)
	current := make([]article.Article, 0)
	currentTokens := 0

	for i, a := range articles {
		tokens := estimateTokens(articleToPromptLine(fmt.Sprint(i+1), a))
		if currentTokens+tokens > maxTokensPerBatch && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, a)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Classify 调用模型为文章分配层级。返回的文章按模型给出的重要性排序；
// 模型未返回的文章视为被丢弃。层级原样写入文章，非法层级由组装阶段处理。
func (c *Client) Classify(ctx context.Context, articles []article.Article) ([]article.Article, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	batches := splitArticlesIntoBatches(articles, c.maxInputTokens)
	if len(batches) > 1 {
		logger.Infof("[LLM] 文章过多，将拆分为 %d 个批次进行分类", len(batches))
	}

	classified := make([]article.Article, 0, len(articles))
	for i, batch := range batches {
		logger.Debugf("[LLM] 处理批次 %d/%d (%d 篇)", i+1, len(batches), len(batch))
		out, err := c.classifyBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("分类批次 %d 失败: %w", i+1, err)
		}
		classified = append(classified, out...)
	}

	logger.Infof("[LLM] 分类完成: 输入 %d 篇，入选 %d 篇", len(articles), len(classified))
	return classified, nil
}

func (c *Client) classifyBatch(ctx context.Context, batch []article.Article) ([]article.Article, error) {
	var sb strings.Builder
	for i, a := range batch {
		sb.WriteString(articleToPromptLine(fmt.Sprint(i+1), a))
		sb.WriteString("\n")
	}

	raw, err := c.classifyOnce(ctx, sb.String())
	if err != nil {
		return nil, err
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		logger.Debugf("[LLM] 无法解析的响应: %s", raw)
		return nil, fmt.Errorf("解析 LLM 返回的 JSON 失败: %w", err)
	}

	used := make(map[int]bool, len(resp.Items))
	out := make([]article.Article, 0, len(resp.Items))
	for _, item := range resp.Items {
		var ref int
		if _, err := fmt.Sscanf(strings.Trim(strings.TrimSpace(item.ID), "[]"), "%d", &ref); err != nil || ref < 1 || ref > len(batch) {
			logger.Signal(logger.SignalClassifierContractViolation, "[LLM] 返回了未知的文章编号 %q，已忽略", item.ID)
			continue
		}
		if used[ref] {
			logger.Warnf("[LLM] 文章编号 %d 被重复返回，只保留第一次", ref)
			continue
		}
		used[ref] = true

		// 层级原样保留，由组装阶段识别非法值
		tier, ok := article.ParseTier(item.Tier)
		if !ok && strings.TrimSpace(item.Tier) != "" {
			tier = article.Tier(strings.TrimSpace(item.Tier))
		}
		out = append(out, batch[ref-1].WithTier(tier, item.Summary))
	}

	if discarded := len(batch) - len(used); discarded > 0 {
		logger.Infof("[LLM] 本批次 %d 篇文章被模型判定为不相关", discarded)
	}
	return out, nil
}

const systemPrompt = `Du erstellst einen News-Digest für einen technisch interessierten Leser in Deutschland.
Ordne jedem relevanten Artikel genau einen Tier zu:
- MUST_KNOW: große politische Ereignisse, Kriege, wichtige Nachrichten auf Bundesebene, bedeutende internationale Entwicklungen
- INTERESSANT: Tech/KI, EU-Regulierung, Wirtschaft, Raumfahrt, große Infrastruktur-Ausfälle
- NICE_TO_KNOW: Klima & Umwelt, Tech-Releases, Wissenschaft, Sonstiges Bemerkenswertes
Irrelevante Artikel (Meinungen, Sicherheitslücken, Parteipolitik, Sport, Promi-News, Lokales) lässt du weg.
Gleiche Story aus mehreren Quellen nur einmal aufnehmen.
Sortiere innerhalb eines Tiers nach Wichtigkeit.
Antworte NUR mit JSON: {"items":[{"id":"<Nummer>","tier":"MUST_KNOW|INTERESSANT|NICE_TO_KNOW","summary":"1-2 Sätze auf Deutsch"}]}`

// classifyOnce 执行一次分类请求，返回 JSON 字符串
func (c *Client) classifyOnce(ctx context.Context, articlesText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Artikel:\n\n" + articlesText + "\nBitte JSON ausgeben."},
		},
		Temperature: 0.2,
		MaxTokens:   4000,
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("调用 LLM API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM API 返回空结果")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	return content, nil
}
