package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/config"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockOpenAIClient 模拟 OpenAI 客户端
type mockOpenAIClient struct {
	mock.Mock
}

func (m *mockOpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

// newTestClient 创建用于测试的客户端，maxInputTokens 为 0 时使用 cfg.MaxTokens-2000
func newTestClient(mockClient openAIClientInterface, maxInputTokens int) *Client {
	cfg := &config.LLM{Model: "test", MaxTokens: 10000}
	if maxInputTokens <= 0 {
		maxInputTokens = cfg.MaxTokens - 2000
	}
	return &Client{
		config:         cfg,
		openaiClient:   mockClient,
		maxInputTokens: maxInputTokens,
	}
}

func reply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func sampleArticles(n int) []article.Article {
	out := make([]article.Article, n)
	for i := range out {
		out[i] = article.Article{
			ID:          fmt.Sprintf("url:https://example.com/%d", i),
			Title:       fmt.Sprintf("Artikel %d", i+1),
			Source:      "Tagesschau",
			PublishedAt: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
			Summary:     "Eine längere Zusammenfassung mit mehreren Wörtern für die Schätzung",
		}
	}
	return out
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantMin int
		wantMax int
	}{
		{"空文本", "", 0, 0},
		{"德语句子", "Die Bundesregierung beschließt ein neues Gesetz", 6, 20},
		{"长单词下限", strings.Repeat("x", 400), 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateTokens(tt.text)
			assert.GreaterOrEqual(t, got, tt.wantMin)
			assert.LessOrEqual(t, got, tt.wantMax)
		})
	}
}

func TestSplitArticlesIntoBatches(t *testing.T) {
	assert.Nil(t, splitArticlesIntoBatches(nil, 100))

	articles := sampleArticles(20)
	assert.Len(t, splitArticlesIntoBatches(articles, 100000), 1)

	batches := splitArticlesIntoBatches(articles, 60)
	assert.GreaterOrEqual(t, len(batches), 2, "应拆分为多批")
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, len(articles), total, "文章总数应守恒")
}

func TestClassify_Empty(t *testing.T) {
	client := newTestClient(&mockOpenAIClient{}, 0)
	out, err := client.Classify(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestClassify_Success(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(reply(`{"items":[
			{"id":"3","tier":"MUST_KNOW","summary":"Wichtig."},
			{"id":"1","tier":"nice-to-know","summary":""}
		]}`), nil)

	client := newTestClient(mockAPI, 0)
	articles := sampleArticles(3)
	out, err := client.Classify(context.Background(), articles)
	require.NoError(t, err)
	mockAPI.AssertExpectations(t)

	require.Len(t, out, 2)
	assert.Equal(t, articles[2].ID, out[0].ID)
	assert.Equal(t, article.TierMustKnow, out[0].Tier)
	assert.Equal(t, "Wichtig.", out[0].Blurb)
	assert.Equal(t, articles[0].ID, out[1].ID)
	assert.Equal(t, article.TierNiceToKnow, out[1].Tier)
}

func TestClassify_UnknownTierPassedThrough(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(reply(`{"items":[{"id":"1","tier":"TIER_4"},{"id":"2"},{"id":"99","tier":"MUST_KNOW"},{"id":"1","tier":"MUST_KNOW"}]}`), nil)

	client := newTestClient(mockAPI, 0)
	out, err := client.Classify(context.Background(), sampleArticles(2))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, article.Tier("TIER_4"), out[0].Tier)
	assert.False(t, out[0].Tier.Valid())
	assert.Equal(t, article.TierUnset, out[1].Tier)
}

func TestClassify_APIError(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, errors.New("api error"))

	client := newTestClient(mockAPI, 0)
	_, err := client.Classify(context.Background(), sampleArticles(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "调用 LLM API 失败")
}

func TestClassify_EmptyResponse(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{Choices: nil}, nil)

	client := newTestClient(mockAPI, 0)
	_, err := client.Classify(context.Background(), sampleArticles(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "返回空结果")
}

func TestClassify_InvalidJSON(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(reply("not valid json"), nil)

	client := newTestClient(mockAPI, 0)
	_, err := client.Classify(context.Background(), sampleArticles(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析")
}

func TestClassify_TrimsMarkdownCodeBlock(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(reply("```json\n{\"items\":[{\"id\":\"1\",\"tier\":\"INTERESSANT\"}]}\n```"), nil)

	client := newTestClient(mockAPI, 0)
	out, err := client.Classify(context.Background(), sampleArticles(1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, article.TierInteressant, out[0].Tier)
}

func TestClassify_MultipleBatchesKeepOrder(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(reply(`{"items":[{"id":"1","tier":"INTERESSANT"}]}`), nil)

	client := newTestClient(mockAPI, 40) // 很小，强制分批
	articles := sampleArticles(3)
	out, err := client.Classify(context.Background(), articles)
	require.NoError(t, err)

	calls := len(mockAPI.Calls)
	assert.GreaterOrEqual(t, calls, 2)
	require.Len(t, out, calls)
	assert.Equal(t, articles[0].ID, out[0].ID)
}
